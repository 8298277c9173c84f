package graph

import (
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fieldsModule struct {
	queries, mutations graphql.Fields
}

func (m fieldsModule) Queries() graphql.Fields   { return m.queries }
func (m fieldsModule) Mutations() graphql.Fields { return m.mutations }

func TestNewSchemaMergesModules(t *testing.T) {
	schema, err := NewSchema(SchemaConfig{}, PingModule{}, NewUserModule(zap.NewNop().Sugar()))
	require.NoError(t, err)

	query := schema.QueryType().Fields()
	for _, name := range []string{"ping", "user_by_username", "user_by_email", "username_exists", "email_exists"} {
		assert.Contains(t, query, name)
	}
	require.NotNil(t, schema.MutationType())
	assert.Contains(t, schema.MutationType().Fields(), "user_register")
}

func TestNewSchemaWithoutMutationsOmitsMutationType(t *testing.T) {
	schema, err := NewSchema(SchemaConfig{}, PingModule{})
	require.NoError(t, err)
	assert.Nil(t, schema.MutationType())
}

func TestNewSchemaRejectsDuplicateRootField(t *testing.T) {
	dup := fieldsModule{queries: graphql.Fields{
		"ping": &graphql.Field{Type: graphql.String},
	}}

	_, err := NewSchema(SchemaConfig{}, PingModule{}, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate Query field "ping"`)
}

func TestNewSchemaRequiresQueryField(t *testing.T) {
	onlyMutation := fieldsModule{mutations: graphql.Fields{
		"noop": &graphql.Field{Type: graphql.String},
	}}

	_, err := NewSchema(SchemaConfig{}, onlyMutation)
	assert.EqualError(t, err, "schema has no query fields")
}
