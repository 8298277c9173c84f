package graph

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user"
)

// Resources are the process-wide collaborators resolvers need. They are built
// once at startup and attached to every request context by the Handler.
// Everything inside must be safe for concurrent use; resolvers only read it.
type Resources struct {
	Store     user.Repository
	Crypto    user.PasswordHasher
	IDs       user.IDGenerator
	Validator *user.Validator
	Logger    *zap.SugaredLogger

	usersOnce sync.Once
	users     *user.UserService
}

// Users returns the service bound to the shared store and crypto service. It
// is built on first use and shared afterwards, so a defaulted ID generator
// is a single snowflake node for the whole process.
func (r *Resources) Users() *user.UserService {
	r.usersOnce.Do(func() {
		r.users = user.NewUserService(r.Store, r.Crypto, r.IDs)
	})
	return r.users
}

type resourcesKey struct{}

// WithResources returns a context that carries res.
func WithResources(ctx context.Context, res *Resources) context.Context {
	return context.WithValue(ctx, resourcesKey{}, res)
}

// ResourcesFrom returns the resources attached to ctx.
func ResourcesFrom(ctx context.Context) (*Resources, bool) {
	res, ok := ctx.Value(resourcesKey{}).(*Resources)
	return res, ok && res != nil
}
