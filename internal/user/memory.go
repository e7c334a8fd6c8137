package user

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps users in process. It backs the memory store driver
// and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User // by id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

func (m *MemoryRepository) CreateUser(_ context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email {
			return nil, ErrEmailTaken
		}
	}
	created := *user
	created.CreatedAt = time.Now().UTC()
	m.users[created.ID] = created
	return &created, nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryRepository) GetUsersByIDs(_ context.Context, ids []string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := []User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *MemoryRepository) SearchUsers(_ context.Context, term, excludeID string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	term = strings.ToLower(term)
	users := []User{}
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), term) || strings.Contains(u.Email, term) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	if len(users) > searchLimit {
		users = users[:searchLimit]
	}
	return users, nil
}
