// Package usertest provides in-memory collaborators for tests of the user
// service and the GraphQL layer.
package usertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/repo"
)

// MemoryRepo is an in-memory users table. Its unique indexes on username and
// email are enforced atomically on Insert, like the database constraints.
type MemoryRepo struct {
	mu         sync.Mutex
	byID       map[string]*entity.User
	byUsername map[string]string
	byEmail    map[string]string

	// BeforeInsert, when set, runs before the row is written. Tests use it to
	// hold concurrent registrations between their pre-checks and the insert.
	BeforeInsert func(ctx context.Context, u *entity.User)
	// Err, when set, is returned by every call.
	Err error

	calls atomic.Int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       make(map[string]*entity.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// Calls reports how many repository methods have been invoked.
func (m *MemoryRepo) Calls() int64 { return m.calls.Load() }

// Len reports the number of stored users.
func (m *MemoryRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *MemoryRepo) Insert(ctx context.Context, u *entity.User) error {
	m.calls.Add(1)
	if m.Err != nil {
		return m.Err
	}
	if m.BeforeInsert != nil {
		m.BeforeInsert(ctx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[u.Username]; ok {
		return &repo.UniqueViolation{Field: "username", Constraint: repo.UsernameConstraint}
	}
	if _, ok := m.byEmail[u.Email]; ok {
		return &repo.UniqueViolation{Field: "email", Constraint: repo.EmailConstraint}
	}
	cp := *u
	m.byID[u.ID] = &cp
	m.byUsername[u.Username] = u.ID
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryRepo) FindByUsername(_ context.Context, username string) (*entity.User, error) {
	return m.find(func() (string, bool) { id, ok := m.byUsername[username]; return id, ok })
}

func (m *MemoryRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	return m.find(func() (string, bool) { id, ok := m.byEmail[email]; return id, ok })
}

func (m *MemoryRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	u, err := m.FindByUsername(ctx, username)
	return u != nil, err
}

func (m *MemoryRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, err := m.FindByEmail(ctx, email)
	return u != nil, err
}

func (m *MemoryRepo) find(lookup func() (string, bool)) (*entity.User, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := lookup()
	if !ok {
		return nil, nil
	}
	cp := *m.byID[id]
	return &cp, nil
}

// StubHasher is a deterministic, fast PasswordHasher: the hash is the hex
// SHA-256 of the password with a fixed prefix.
type StubHasher struct {
	Err   error
	calls atomic.Int64
}

func (h *StubHasher) Hash(pw string) (string, string, error) {
	h.calls.Add(1)
	if h.Err != nil {
		return "", "", h.Err
	}
	sum := sha256.Sum256([]byte(pw))
	return "stub$" + hex.EncodeToString(sum[:]), "stub", nil
}

func (h *StubHasher) Verify(hash, pw string) bool {
	sum := sha256.Sum256([]byte(pw))
	return hash == "stub$"+hex.EncodeToString(sum[:])
}

// Calls reports how many times Hash was invoked.
func (h *StubHasher) Calls() int64 { return h.calls.Load() }

// SequenceIDs hands out "1", "2", ...
type SequenceIDs struct {
	n atomic.Int64
}

func (s *SequenceIDs) NewID() string {
	return strconv.FormatInt(s.n.Add(1), 10)
}
