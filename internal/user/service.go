package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-graphql/pkg/utilities"
)

// Repository is the storage contract the service relies on. Insert must
// report a duplicate username or email as *repo.UniqueViolation; the store's
// unique constraints are the source of truth for uniqueness.
type Repository interface {
	Insert(ctx context.Context, u *entity.User) error
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// IDGenerator assigns user identifiers.
type IDGenerator interface {
	NewID() string
}

// ErrUserNotFound is wrapped by GetByUsername when no user matches.
var ErrUserNotFound = errors.New("user not found")

// UserService orchestrates the user lifecycle. It holds no mutable state and
// is safe for concurrent use when its collaborators are.
type UserService struct {
	repo   Repository
	hasher PasswordHasher
	ids    IDGenerator
	now    func() time.Time
}

func NewUserService(r Repository, hasher PasswordHasher, ids IDGenerator) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if ids == nil {
		ids = utilities.NewIDGenerator(utilities.NodeFromEnv())
	}
	return &UserService{repo: r, hasher: hasher, ids: ids, now: time.Now}
}

// Register creates a user from an already validated and normalized request.
//
// The existence checks fail fast with a field-attributed error before paying
// for hashing. They do not guarantee uniqueness: two registrations can both
// pass them. The insert is the arbiter and its unique violation is translated
// into the same conflict error a pre-check would have produced.
func (s *UserService) Register(ctx context.Context, in entity.NewUser) (*entity.User, error) {
	exists, err := s.repo.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, apperr.Internalf("check username: %w", err)
	}
	if exists {
		return nil, apperr.ErrUsernameAlreadyExists
	}

	exists, err = s.repo.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperr.Internalf("check email: %w", err)
	}
	if exists {
		return nil, apperr.ErrEmailAlreadyExists
	}

	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internalf("hash password: %w", err)
	}
	if hash == "" || hash == in.Password {
		return nil, apperr.Internalf("hash password: hasher returned an unusable hash")
	}

	u := &entity.User{
		ID:           s.ids.NewID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		PasswordAlgo: algo,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, u); err != nil {
		return nil, translateInsert(err)
	}
	return u, nil
}

func translateInsert(err error) error {
	var uv *userrepo.UniqueViolation
	if !errors.As(err, &uv) {
		return apperr.Internalf("insert user: %w", err)
	}
	field := uv.Field
	if field == "" {
		field = userrepo.FieldForConstraint(uv.Constraint)
	}
	switch field {
	case "username":
		return apperr.ErrUsernameAlreadyExists
	case "email":
		return apperr.ErrEmailAlreadyExists
	}
	return apperr.Internalf("insert user: %w", err)
}

// FindByUsername returns nil, nil when absent.
func (s *UserService) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	u, err := s.repo.FindByUsername(ctx, normalize(username))
	if err != nil {
		return nil, apperr.Internalf("find by username: %w", err)
	}
	return u, nil
}

// FindByEmail returns nil, nil when absent.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.repo.FindByEmail(ctx, normalize(email))
	if err != nil {
		return nil, apperr.Internalf("find by email: %w", err)
	}
	return u, nil
}

// GetByUsername is FindByUsername for callers that have already established
// the user exists; absence is an internal error wrapping ErrUserNotFound.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	u, err := s.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.Internal(ErrUserNotFound)
	}
	return u, nil
}

func (s *UserService) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	ok, err := s.repo.ExistsByUsername(ctx, normalize(username))
	if err != nil {
		return false, apperr.Internalf("check username: %w", err)
	}
	return ok, nil
}

func (s *UserService) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ok, err := s.repo.ExistsByEmail(ctx, normalize(email))
	if err != nil {
		return false, apperr.Internalf("check email: %w", err)
	}
	return ok, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
