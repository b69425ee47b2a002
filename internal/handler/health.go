package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing service answers.
type Pinger func(ctx context.Context) error

// Health checks every registered dependency and answers 200 when all of
// them respond, 503 otherwise. Load balancers only look at the status.
type Health struct {
	Checks map[string]Pinger
}

func (h *Health) Handle(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.Checks))
	for name, ping := range h.Checks {
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = "down"
			continue
		}
		results[name] = "ok"
	}
	return c.JSON(status, echo.Map{"status": http.StatusText(status), "checks": results})
}
