package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/utils"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc      *AuthService
	users    *memUsers
	sessions *memSessions
	uploader *fakeUploader
	clock    *clock
	alice    model.User
}

const alicePassword = "correct horse"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	iss, err := utils.NewIssuer(utils.IssuerConfig{
		AccessSecret:  "access-secret",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    24 * time.Hour,
		Now:           c.Now,
	})
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()

	f := &fixture{
		users:    newMemUsers(),
		sessions: newMemSessions(),
		uploader: &fakeUploader{fail: map[string]bool{}},
		clock:    c,
	}
	f.svc = &AuthService{
		Users:    f.users,
		Sessions: f.sessions,
		Uploader: f.uploader,
		Issuer:   iss,
		Hasher:   utils.Hasher{Cost: bcrypt.MinCost},
		Log:      logger,
		Now:      c.Now,
	}

	hash, err := f.svc.Hasher.Hash(alicePassword)
	require.NoError(t, err)
	f.alice = model.User{Username: "alice", Email: "a@x.com", FullName: "Alice", PasswordHash: hash}
	require.NoError(t, f.users.Create(context.Background(), &f.alice))
	return f
}

func (f *fixture) login(t *testing.T) LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), "alice", "", alicePassword)
	require.NoError(t, err)
	return res
}

func TestLogin_IssuesPairAndStoresDigest(t *testing.T) {
	f := newFixture(t)

	res := f.login(t)
	assert.NotEmpty(t, res.Access.Token)
	assert.NotEmpty(t, res.Refresh.Token)
	assert.Equal(t, f.alice.ID, res.User.ID)
	assert.Equal(t, utils.HashToken(res.Refresh.Token), f.sessions.get(f.alice.ID))

	claims, err := f.svc.Issuer.ParseAccessToken(res.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, claims.Subject)
}

func TestLogin_ByEmailIgnoresCase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), "", "A@X.COM", alicePassword)
	assert.NoError(t, err)
}

func TestLogin_WrongPasswordLeavesSlot(t *testing.T) {
	f := newFixture(t)
	first := f.login(t)

	_, err := f.svc.Login(context.Background(), "alice", "", "wrong")
	require.Error(t, err)
	assert.True(t, apperr.IsAuthentication(err))
	assert.Equal(t, utils.HashToken(first.Refresh.Token), f.sessions.get(f.alice.ID))
}

func TestLogin_InputErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, " ", "", alicePassword)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Login(ctx, "alice", "", "")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Login(ctx, "bob", "", alicePassword)
	assert.True(t, apperr.IsNotFound(err))
}

func TestLogin_StoreFailureIsDependency(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = errors.New("mysql down")

	_, err := f.svc.Login(context.Background(), "alice", "", alicePassword)
	require.Error(t, err)
	status, msg := apperr.Status(err)
	assert.Equal(t, 500, status)
	assert.Equal(t, "internal server error", msg)
}

func TestRefresh_RotatesAndInvalidatesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)

	pair, err := f.svc.Refresh(ctx, first.Refresh.Token)
	require.NoError(t, err)
	assert.NotEqual(t, first.Refresh.Token, pair.Refresh.Token)
	assert.NotEqual(t, first.Access.Token, pair.Access.Token)
	assert.Equal(t, utils.HashToken(pair.Refresh.Token), f.sessions.get(f.alice.ID))

	_, err = f.svc.Refresh(ctx, first.Refresh.Token)
	require.Error(t, err)
	assert.True(t, apperr.IsAuthentication(err))
	_, msg := apperr.Status(err)
	assert.Equal(t, "expired or reused refresh token", msg)

	_, err = f.svc.Refresh(ctx, pair.Refresh.Token)
	assert.NoError(t, err)
}

func TestRefresh_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func() string
		msg   string
	}{
		{"absent", func() string { return "" }, "unauthorized"},
		{"garbage", func() string { return "not.a.jwt" }, "invalid or expired refresh token"},
		{"access token presented", func() string { return f.login(t).Access.Token }, "invalid or expired refresh token"},
		{"expired", func() string {
			tok := f.login(t).Refresh.Token
			f.clock.Advance(25 * time.Hour)
			return tok
		}, "invalid or expired refresh token"},
		{"user deleted", func() string {
			tok := f.login(t).Refresh.Token
			delete(f.users.byID, f.alice.ID)
			return tok
		}, "invalid refresh token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := tt.setup()
			sets := f.sessions.sets

			_, err := f.svc.Refresh(ctx, tok)
			require.Error(t, err)
			assert.True(t, apperr.IsAuthentication(err))
			_, msg := apperr.Status(err)
			assert.Equal(t, tt.msg, msg)
			assert.Equal(t, sets, f.sessions.sets, "store must not be written")
		})
	}
}

func TestRefresh_StoreErrorIsGeneric(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t).Refresh.Token
	f.sessions.err = errors.New("connection reset")

	_, err := f.svc.Refresh(context.Background(), tok)
	require.Error(t, err)
	status, msg := apperr.Status(err)
	assert.Equal(t, 401, status)
	assert.Equal(t, "invalid refresh token", msg)
}

func TestLogout_InvalidatesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t)

	require.NoError(t, f.svc.Logout(ctx, f.alice.ID))
	require.NoError(t, f.svc.Logout(ctx, f.alice.ID))
	assert.Empty(t, f.sessions.get(f.alice.ID))

	_, err := f.svc.Refresh(ctx, res.Refresh.Token)
	assert.True(t, apperr.IsAuthentication(err))

	// access tokens are not revoked by logout
	_, err = f.svc.Issuer.ParseAccessToken(res.Access.Token)
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t)

	err := f.svc.ChangePassword(ctx, f.alice.ID, "wrong", "new-pass")
	assert.True(t, apperr.IsAuthentication(err))

	err = f.svc.ChangePassword(ctx, f.alice.ID, alicePassword, "")
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, f.svc.ChangePassword(ctx, f.alice.ID, alicePassword, "new-pass"))

	_, err = f.svc.Login(ctx, "alice", "", alicePassword)
	assert.True(t, apperr.IsAuthentication(err))
	_, err = f.svc.Login(ctx, "alice", "", "new-pass")
	assert.NoError(t, err)

	_, err = f.svc.Issuer.ParseAccessToken(res.Access.Token)
	assert.NoError(t, err)
}

func TestChangePassword_UnknownUser(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ChangePassword(context.Background(), "ffffffffffffffffffffffff", alicePassword, "x")
	assert.True(t, apperr.IsNotFound(err))
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, RegisterInput{
		FullName:       "Bob Builder",
		Email:          "Bob@X.com",
		Username:       "Bob",
		Password:       "hunter2",
		AvatarPath:     "avatar.png",
		CoverImagePath: "cover.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "bob@x.com", u.Email)
	assert.Equal(t, "https://cdn.example.com/avatar.png", u.Avatar)
	assert.Equal(t, "https://cdn.example.com/cover.png", u.CoverImage)
	assert.True(t, f.svc.Hasher.Verify(u.PasswordHash, "hunter2"))
	assert.Empty(t, f.sessions.get(u.ID), "registration does not log in")
}

func TestRegister_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := RegisterInput{FullName: "Bob", Email: "bob@x.com", Username: "bob", Password: "pw", AvatarPath: "a.png"}

	missing := valid
	missing.FullName = "  "
	_, err := f.svc.Register(ctx, missing)
	assert.True(t, apperr.IsValidation(err))

	dup := valid
	dup.Username = "ALICE"
	_, err = f.svc.Register(ctx, dup)
	assert.True(t, apperr.IsConflict(err))

	noAvatar := valid
	noAvatar.AvatarPath = ""
	_, err = f.svc.Register(ctx, noAvatar)
	require.Error(t, err)
	_, msg := apperr.Status(err)
	assert.Equal(t, "avatar file is required", msg)

	f.uploader.fail["a.png"] = true
	_, err = f.svc.Register(ctx, valid)
	require.Error(t, err)
	_, msg = apperr.Status(err)
	assert.Equal(t, "error while uploading avatar", msg)
}

func TestRegister_CoverFailureIsTolerated(t *testing.T) {
	f := newFixture(t)
	f.uploader.fail["c.png"] = true

	u, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "Bob", Email: "bob@x.com", Username: "bob", Password: "pw",
		AvatarPath: "a.png", CoverImagePath: "c.png",
	})
	require.NoError(t, err)
	assert.Empty(t, u.CoverImage)
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.CurrentUser(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = f.svc.CurrentUser(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestEventsArePublishedBestEffort(t *testing.T) {
	f := newFixture(t)
	pub := &mockPublisher{}
	f.svc.Events = pub
	ctx := WithRemoteIP(context.Background(), "10.1.2.3")

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev queue.AuthEvent) bool {
		return ev.Type == queue.EventLoggedIn && ev.UserID == f.alice.ID && ev.RemoteIP == "10.1.2.3"
	})).Return(errors.New("broker down")).Once()

	_, err := f.svc.Login(ctx, "alice", "", alicePassword)
	require.NoError(t, err, "publish failure must not fail login")
	pub.AssertExpectations(t)
}

func TestPasswordsOverBcryptLimitAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 40 runes but 80 bytes.
	long := strings.Repeat("é", 40)
	require.Greater(t, len(long), MaxPasswordBytes)

	_, err := f.svc.Register(ctx, RegisterInput{
		FullName: "Bob", Email: "bob@x.com", Username: "bob", Password: long, AvatarPath: "a.png",
	})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	assert.Empty(t, f.uploader.got, "nothing is uploaded for a rejected registration")

	err = f.svc.ChangePassword(ctx, f.alice.ID, alicePassword, long)
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	_, err = f.svc.Login(ctx, "alice", "", alicePassword)
	assert.NoError(t, err, "old password still works")

	exact := strings.Repeat("é", MaxPasswordBytes/2)
	require.NoError(t, f.svc.ChangePassword(ctx, f.alice.ID, alicePassword, exact))
	_, err = f.svc.Login(ctx, "alice", "", exact)
	assert.NoError(t, err)
}

// silentBroker accepts TCP connections and never writes a byte, like a
// broker host whose AMQP listener has hung.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var held []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
		for _, c := range held {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestLogin_NotDelayedByUnresponsiveBroker(t *testing.T) {
	f := newFixture(t)
	pub := queue.NewPublisher(silentBroker(t))
	pub.DialTimeout = 2 * time.Second
	pub.Log, _ = test.NewNullLogger()
	f.svc.Events = pub

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go pub.Run(runCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "alice", "", alicePassword)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.NoError(t, ctx.Err(), "login finished inside the request deadline")
}
