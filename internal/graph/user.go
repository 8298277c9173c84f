package graph

import (
	"time"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/entity"
)

// UserModule exposes registration and the user read paths.
type UserModule struct {
	logger   *zap.SugaredLogger
	userType *graphql.Object
	newUser  *graphql.InputObject
}

func NewUserModule(logger *zap.SugaredLogger) *UserModule {
	return &UserModule{
		logger: logger,
		userType: graphql.NewObject(graphql.ObjectConfig{
			Name: "User",
			Fields: graphql.Fields{
				"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
				"username":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
				"email":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
				"createdAt": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			},
		}),
		newUser: graphql.NewInputObject(graphql.InputObjectConfig{
			Name: "NewUser",
			Fields: graphql.InputObjectConfigFieldMap{
				"username": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
				"email":    &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
				"password": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			},
		}),
	}
}

func (m *UserModule) Mutations() graphql.Fields {
	return graphql.Fields{
		"user_register": &graphql.Field{
			Type:        m.userType,
			Description: "Register a new user account.",
			Args: graphql.FieldConfigArgument{
				"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(m.newUser)},
			},
			Resolve: resolveWith(m.logger, m.register),
		},
	}
}

func (m *UserModule) Queries() graphql.Fields {
	stringArg := func(name string) graphql.FieldConfigArgument {
		return graphql.FieldConfigArgument{name: &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}}
	}
	return graphql.Fields{
		"user_by_username": &graphql.Field{
			Type: m.userType,
			Args: stringArg("username"),
			Resolve: resolveWith(m.logger, func(p graphql.ResolveParams, res *Resources) (interface{}, error) {
				u, err := res.Users().FindByUsername(p.Context, stringValue(p.Args, "username"))
				return userView(u), err
			}),
		},
		"user_by_email": &graphql.Field{
			Type: m.userType,
			Args: stringArg("email"),
			Resolve: resolveWith(m.logger, func(p graphql.ResolveParams, res *Resources) (interface{}, error) {
				u, err := res.Users().FindByEmail(p.Context, stringValue(p.Args, "email"))
				return userView(u), err
			}),
		},
		"username_exists": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Boolean),
			Args: stringArg("username"),
			Resolve: resolveWith(m.logger, func(p graphql.ResolveParams, res *Resources) (interface{}, error) {
				return res.Users().ExistsByUsername(p.Context, stringValue(p.Args, "username"))
			}),
		},
		"email_exists": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Boolean),
			Args: stringArg("email"),
			Resolve: resolveWith(m.logger, func(p graphql.ResolveParams, res *Resources) (interface{}, error) {
				return res.Users().ExistsByEmail(p.Context, stringValue(p.Args, "email"))
			}),
		},
	}
}

func (m *UserModule) register(p graphql.ResolveParams, res *Resources) (interface{}, error) {
	input, _ := p.Args["input"].(map[string]interface{})
	in := entity.NewUser{
		Username: stringValue(input, "username"),
		Email:    stringValue(input, "email"),
		Password: stringValue(input, "password"),
	}

	norm, err := res.Validator.Validate(in)
	if err != nil {
		return nil, err
	}
	u, err := res.Users().Register(p.Context, norm)
	if err != nil {
		return nil, err
	}
	if res.Logger != nil {
		res.Logger.Infow("user registered", "id", u.ID, "username", u.Username)
	}
	return userView(u), nil
}

func stringValue(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// userView is the wire projection of a user; the password hash never leaves
// the service.
func userView(u *entity.User) interface{} {
	if u == nil {
		return nil
	}
	return map[string]interface{}{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"createdAt": u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
