package radius

import (
	"context"
	"fmt"
	"sync"
)

// InMemory is the mock AAA store used when no provisioning API is
// configured and by tests. It records every operation so assertions can
// check call counts, and FailWith simulates an unreachable store.
type InMemory struct {
	mu       sync.Mutex
	users    map[string]UserRecord
	groups   map[string]GroupRecord
	disabled map[string]bool
	ops      []string

	// FailWith, when set, makes every call return this error.
	FailWith error
}

// NewInMemory creates an empty mock store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:    make(map[string]UserRecord),
		groups:   make(map[string]GroupRecord),
		disabled: make(map[string]bool),
	}
}

func (m *InMemory) record(op string) {
	m.ops = append(m.ops, op)
}

func (m *InMemory) PutUser(_ context.Context, rec UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.record("put_user:" + rec.Username)
	m.users[rec.Username] = rec
	delete(m.disabled, rec.Username)
	return nil
}

func (m *InMemory) DisableUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.record("disable_user:" + username)
	m.disabled[username] = true
	return nil
}

func (m *InMemory) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.record("delete_user:" + username)
	delete(m.users, username)
	delete(m.disabled, username)
	return nil
}

func (m *InMemory) GetUser(_ context.Context, username string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	rec, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("aaa store: user %s not found", username)
	}
	return &rec, nil
}

func (m *InMemory) PutGroup(_ context.Context, rec GroupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.record("put_group:" + rec.Name)
	m.groups[rec.Name] = rec
	return nil
}

func (m *InMemory) DeleteGroup(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.record("delete_group:" + name)
	delete(m.groups, name)
	return nil
}

// User returns the stored record for a username, if any.
func (m *InMemory) User(username string) (UserRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[username]
	return rec, ok
}

// Group returns the stored record for a group name, if any.
func (m *InMemory) Group(name string) (GroupRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.groups[name]
	return rec, ok
}

// IsDisabled reports whether the username is currently disabled.
func (m *InMemory) IsDisabled(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled[username]
}

// OpCount counts recorded operations with the given op string, e.g.
// "disable_user:alice".
func (m *InMemory) OpCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.ops {
		if o == op {
			n++
		}
	}
	return n
}
