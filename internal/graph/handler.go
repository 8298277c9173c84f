package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/graphql-go/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user"
)

const maxBodyBytes = 1 << 20

// BadRequest marks a request that could not be turned into an operation:
// unreadable body, missing query or a syntax error. The router answers it
// with 400.
type BadRequest struct {
	Err error
}

func (e *BadRequest) Error() string { return "bad request: " + e.Err.Error() }

func (e *BadRequest) Unwrap() error { return e.Err }

func badRequest(format string, args ...interface{}) error {
	return &BadRequest{Err: fmt.Errorf(format, args...)}
}

// Request is a GraphQL-over-HTTP POST body.
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// Handler executes GraphQL requests against a schema. Failures it cannot
// express as a GraphQL response are returned to the caller.
type Handler struct {
	schema graphql.Schema
	res    *Resources
	logger *zap.SugaredLogger
}

func NewHandler(schema graphql.Schema, res *Resources, logger *zap.SugaredLogger) *Handler {
	if res != nil {
		if res.Logger == nil {
			res.Logger = logger
		}
		if res.Validator == nil {
			res.Validator = user.NewValidator(nil)
		}
		res.Users()
	}
	return &Handler{schema: schema, res: res, logger: logger}
}

// ServeGraphQL decodes one request, executes it and writes the result. Field
// errors are part of a 200 response; a syntax error or malformed body is
// returned as *BadRequest without writing anything.
func (h *Handler) ServeGraphQL(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeRequest(r)
	if err != nil {
		return err
	}
	if _, err := parser.ParseQuery(&ast.Source{Input: req.Query}); err != nil {
		return badRequest("parse query: %w", err)
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        WithResources(r.Context(), h.res),
	})

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return nil
}

func decodeRequest(r *http.Request) (Request, error) {
	var req Request
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return req, badRequest("read body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return req, badRequest("body exceeds %d bytes", maxBodyBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/graphql" {
		req.Query = string(raw)
	} else if err := json.Unmarshal(raw, &req); err != nil {
		return req, badRequest("decode body: %w", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, &BadRequest{Err: errors.New("missing query")}
	}
	return req, nil
}

// Explorer returns the interactive query page pointed at endpoint.
func Explorer(title, endpoint string) http.HandlerFunc {
	return playground.Handler(title, endpoint)
}
