package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/usertest"
)

type env struct {
	handler *Handler
	repo    *usertest.MemoryRepo
	hasher  *usertest.StubHasher
	logs    *observer.ObservedLogs
}

func newEnv(t *testing.T, exts ...graphql.Extension) *env {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()

	schema, err := NewSchema(SchemaConfig{Extensions: exts}, PingModule{}, NewUserModule(logger))
	require.NoError(t, err)

	e := &env{repo: usertest.NewMemoryRepo(), hasher: &usertest.StubHasher{}, logs: logs}
	res := &Resources{
		Store:     e.repo,
		Crypto:    e.hasher,
		IDs:       &usertest.SequenceIDs{},
		Validator: user.NewValidator(nil),
	}
	e.handler = NewHandler(schema, res, logger)
	return e
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Path       []interface{}          `json:"path"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
	Extensions map[string]json.RawMessage `json:"extensions"`
}

func (e *env) do(t *testing.T, query string, vars map[string]interface{}) (gqlResponse, string) {
	t.Helper()
	body, err := json.Marshal(Request{Query: query, Variables: vars})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	require.NoError(t, e.handler.ServeGraphQL(rec, req))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out gqlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out, rec.Body.String()
}

const registerMutation = `mutation($input: NewUser!) {
	user_register(input: $input) { id username email createdAt }
}`

func registerVars(username, email, password string) map[string]interface{} {
	return map[string]interface{}{"input": map[string]interface{}{
		"username": username, "email": email, "password": password,
	}}
}

func TestPing(t *testing.T) {
	e := newEnv(t)

	out, _ := e.do(t, `{ ping }`, nil)

	assert.Empty(t, out.Errors)
	assert.JSONEq(t, `"pong"`, string(out.Data["ping"]))
	assert.Zero(t, e.repo.Calls())
}

func TestRegisterThenDuplicate(t *testing.T) {
	e := newEnv(t)

	out, raw := e.do(t, registerMutation, registerVars("bob1", "bob@example.com", "Passw0rd"))
	require.Empty(t, out.Errors)
	var created map[string]string
	require.NoError(t, json.Unmarshal(out.Data["user_register"], &created))
	assert.Equal(t, "1", created["id"])
	assert.Equal(t, "bob1", created["username"])
	assert.Equal(t, "bob@example.com", created["email"])
	assert.NotEmpty(t, created["createdAt"])
	assert.NotContains(t, raw, "Passw0rd")
	assert.NotContains(t, raw, "stub$")

	out, _ = e.do(t, registerMutation, registerVars("BOB1", "other@example.com", "Passw0rd"))
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "USERNAME_ALREADY_EXISTS", out.Errors[0].Extensions["code"])
	assert.Equal(t, "username", out.Errors[0].Extensions["field"])
	assert.Equal(t, []interface{}{"user_register"}, out.Errors[0].Path)
	assert.JSONEq(t, `null`, string(out.Data["user_register"]))

	out, _ = e.do(t, registerMutation, registerVars("alice", "Bob@Example.com", "Passw0rd"))
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "EMAIL_ALREADY_EXISTS", out.Errors[0].Extensions["code"])
	assert.Equal(t, "email", out.Errors[0].Extensions["field"])

	assert.Equal(t, 1, e.repo.Len())
}

func TestRegisterValidationFailureReportsEveryField(t *testing.T) {
	e := newEnv(t)

	out, _ := e.do(t, registerMutation, registerVars("ab", "not-an-email", "short"))

	require.Len(t, out.Errors, 1)
	ext := out.Errors[0].Extensions
	assert.Equal(t, "VALIDATION_FAILED", ext["code"])
	assert.Equal(t, "username", ext["field"])
	violations, ok := ext["violations"].([]interface{})
	require.True(t, ok)
	assert.Len(t, violations, 3)
	assert.Zero(t, e.repo.Calls())
	assert.Zero(t, e.hasher.Calls())
}

func TestInternalErrorIsOpaqueAndLogged(t *testing.T) {
	e := newEnv(t)
	e.repo.Err = errors.New("dial tcp 10.0.0.5:5432: connection refused")

	out, raw := e.do(t, registerMutation, registerVars("bob1", "bob@example.com", "Passw0rd"))

	require.Len(t, out.Errors, 1)
	assert.Equal(t, "internal server error", out.Errors[0].Message)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", out.Errors[0].Extensions["code"])
	assert.NotContains(t, raw, "10.0.0.5")
	assert.NotContains(t, raw, "connection refused")

	logged := e.logs.FilterMessage("resolver failed").All()
	require.Len(t, logged, 1)
	assert.Equal(t, zapcore.ErrorLevel, logged[0].Level)
	assert.Contains(t, logged[0].ContextMap()["err"], "connection refused")
}

func TestReadQueries(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, registerMutation, registerVars("bob1", "bob@example.com", "Passw0rd"))

	out, _ := e.do(t, `{
		byName: user_by_username(username: " BOB1 ") { id email }
		byEmail: user_by_email(email: "bob@example.com") { username }
		missing: user_by_username(username: "nobody") { id }
		taken: username_exists(username: "bob1")
		free: email_exists(email: "free@example.com")
	}`, nil)

	require.Empty(t, out.Errors)
	assert.JSONEq(t, `{"id":"1","email":"bob@example.com"}`, string(out.Data["byName"]))
	assert.JSONEq(t, `{"username":"bob1"}`, string(out.Data["byEmail"]))
	assert.JSONEq(t, `null`, string(out.Data["missing"]))
	assert.JSONEq(t, `true`, string(out.Data["taken"]))
	assert.JSONEq(t, `false`, string(out.Data["free"]))
}

func TestUnknownFieldIsGraphQLError(t *testing.T) {
	e := newEnv(t)

	out, _ := e.do(t, `{ nope }`, nil)

	require.NotEmpty(t, out.Errors)
	assert.Contains(t, out.Errors[0].Message, "nope")
}

func TestMissingResourcesIsInternal(t *testing.T) {
	logger := zap.NewNop().Sugar()
	schema, err := NewSchema(SchemaConfig{}, PingModule{}, NewUserModule(logger))
	require.NoError(t, err)
	e := &env{handler: NewHandler(schema, nil, logger)}

	out, _ := e.do(t, `{ username_exists(username: "bob1") }`, nil)

	require.Len(t, out.Errors, 1)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", out.Errors[0].Extensions["code"])
}

func TestServeGraphQLBadRequests(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"syntax error", "application/json", `{"query":"{ ping "}`},
		{"empty query", "application/json", `{"query":"  "}`},
		{"malformed json", "application/json", `{"query":`},
		{"raw syntax error", "application/graphql", `query {`},
		{"oversized body", "application/graphql", "{ ping " + strings.Repeat(" ", maxBodyBytes) + "}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()

			err := e.handler.ServeGraphQL(rec, req)

			var br *BadRequest
			require.ErrorAs(t, err, &br)
			assert.Zero(t, rec.Body.Len())
		})
	}
}

func TestServeGraphQLRawBody(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{ ping }`))
	req.Header.Set("Content-Type", "application/graphql; charset=utf-8")
	rec := httptest.NewRecorder()

	require.NoError(t, e.handler.ServeGraphQL(rec, req))

	assert.JSONEq(t, `{"data":{"ping":"pong"}}`, rec.Body.String())
}

func TestExplorerServesPage(t *testing.T) {
	rec := httptest.NewRecorder()
	Explorer("Users", "/graphql").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/playground", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Users")
}

func TestDefaultIDGeneratorIsSharedAcrossRequests(t *testing.T) {
	logger := zap.NewNop().Sugar()
	schema, err := NewSchema(SchemaConfig{}, PingModule{}, NewUserModule(logger))
	require.NoError(t, err)
	res := &Resources{Store: usertest.NewMemoryRepo(), Crypto: &usertest.StubHasher{}}
	h := NewHandler(schema, res, logger)
	require.Same(t, res.Users(), res.Users())

	const n = 64
	bodies := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			vars := registerVars(fmt.Sprintf("user%03d", i), fmt.Sprintf("user%03d@example.com", i), "Passw0rd")
			body, err := json.Marshal(Request{Query: registerMutation, Variables: vars})
			if err != nil {
				return err
			}
			req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body)))
			rec := httptest.NewRecorder()
			if err := h.ServeGraphQL(rec, req); err != nil {
				return err
			}
			bodies[i] = rec.Body.String()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ids := map[string]bool{}
	for _, b := range bodies {
		var out struct {
			Data struct {
				UserRegister struct {
					ID string `json:"id"`
				} `json:"user_register"`
			} `json:"data"`
			Errors []json.RawMessage `json:"errors"`
		}
		require.NoError(t, json.Unmarshal([]byte(b), &out))
		require.Empty(t, out.Errors)
		ids[out.Data.UserRegister.ID] = true
	}
	assert.Len(t, ids, n)
}
