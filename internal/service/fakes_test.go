package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
)

type memUsers struct {
	mu     sync.Mutex
	byID   map[string]model.User
	nextID int
	err    error // returned by every call when set
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]model.User{}} }

func (m *memUsers) FindByUsernameOrEmail(_ context.Context, username, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.User{}, m.err
	}
	username, email = repository.Normalize(username), repository.Normalize(email)
	for _, u := range m.byID {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (m *memUsers) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	_, err := m.FindByUsernameOrEmail(ctx, username, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memUsers) FindByID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.User{}, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	u.ID = fmt.Sprintf("%024x", m.nextID)
	u.Username = repository.Normalize(u.Username)
	u.Email = repository.Normalize(u.Email)
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

type memSessions struct {
	mu    sync.Mutex
	slots map[string]string
	sets  int
	err   error
}

func newMemSessions() *memSessions { return &memSessions{slots: map[string]string{}} }

func (m *memSessions) SetRefreshToken(_ context.Context, userID, tokenHash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sets++
	if tokenHash == "" {
		delete(m.slots, userID)
		return nil
	}
	m.slots[userID] = tokenHash
	return nil
}

func (m *memSessions) GetRefreshToken(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.slots[userID], nil
}

func (m *memSessions) ClearRefreshToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.slots, userID)
	return nil
}

func (m *memSessions) get(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[userID]
}

type fakeUploader struct {
	fail map[string]bool
	got  []string
}

func (f *fakeUploader) Upload(_ context.Context, localPath string) (string, error) {
	f.got = append(f.got, localPath)
	if f.fail[localPath] {
		return "", errors.New("bucket unavailable")
	}
	return "https://cdn.example.com/" + localPath, nil
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, ev queue.AuthEvent) error {
	return m.Called(ctx, ev).Error(0)
}
