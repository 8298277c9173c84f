package graph

import (
	"errors"
	"fmt"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/apperr"
)

const codeInternal = "INTERNAL_SERVER_ERROR"

var errNoResources = errors.New("no resources in request context")

// clientError is what a resolver hands to graphql-go. Its message and
// extensions are rendered verbatim, so it must only hold client-safe text.
type clientError struct {
	message    string
	extensions map[string]interface{}
}

func (e *clientError) Error() string { return e.message }

func (e *clientError) Extensions() map[string]interface{} { return e.extensions }

// toGraphQLError maps a domain error to its wire shape. User-correctable kinds
// keep their message and field; everything else collapses to an opaque
// internal error whose cause is only logged.
func toGraphQLError(p graphql.ResolveParams, logger *zap.SugaredLogger, err error) error {
	de := apperr.As(err)
	switch de.Kind {
	case apperr.KindValidationFailed:
		return &clientError{
			message: de.Error(),
			extensions: map[string]interface{}{
				"code":       de.Kind.Code(),
				"field":      de.Field(),
				"violations": de.Violations,
			},
		}
	case apperr.KindUsernameAlreadyExists, apperr.KindEmailAlreadyExists:
		return &clientError{
			message:    de.Error(),
			extensions: map[string]interface{}{"code": de.Kind.Code(), "field": de.Field()},
		}
	case apperr.KindUnauthorized:
		return &clientError{
			message:    de.Error(),
			extensions: map[string]interface{}{"code": de.Kind.Code()},
		}
	}

	if logger != nil {
		logger.Errorw("resolver failed",
			"field", p.Info.FieldName,
			"path", fmt.Sprint(pathOf(p.Info)),
			"err", err,
		)
	}
	return &clientError{
		message:    "internal server error",
		extensions: map[string]interface{}{"code": codeInternal},
	}
}

func pathOf(info graphql.ResolveInfo) []interface{} {
	if info.Path == nil {
		return nil
	}
	return info.Path.AsArray()
}

// resolveWith wraps fn so it receives the request's resources and has its
// errors mapped through toGraphQLError.
func resolveWith(logger *zap.SugaredLogger, fn func(p graphql.ResolveParams, res *Resources) (interface{}, error)) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		res, ok := ResourcesFrom(p.Context)
		if !ok {
			return nil, toGraphQLError(p, logger, apperr.Internal(errNoResources))
		}
		lg := logger
		if res.Logger != nil {
			lg = res.Logger
		}
		out, err := fn(p, res)
		if err != nil {
			return nil, toGraphQLError(p, lg, err)
		}
		return out, nil
	}
}
