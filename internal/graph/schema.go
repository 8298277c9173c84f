// Package graph composes the GraphQL schema from independent modules,
// injects shared resources into resolvers and serves the schema over HTTP.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/graphql-go/graphql"
)

// Module is an independently authored group of root fields. Either method may
// return nil.
type Module interface {
	Queries() graphql.Fields
	Mutations() graphql.Fields
}

// SchemaConfig carries schema-wide options.
type SchemaConfig struct {
	Extensions []graphql.Extension
}

// NewSchema merges the root fields of every module into one Query and one
// Mutation type. Two modules defining the same root field is an error.
func NewSchema(cfg SchemaConfig, modules ...Module) (graphql.Schema, error) {
	query := graphql.Fields{}
	mutation := graphql.Fields{}
	for _, m := range modules {
		if err := mergeFields("Query", query, m.Queries()); err != nil {
			return graphql.Schema{}, err
		}
		if err := mergeFields("Mutation", mutation, m.Mutations()); err != nil {
			return graphql.Schema{}, err
		}
	}
	if len(query) == 0 {
		return graphql.Schema{}, errors.New("schema has no query fields")
	}

	sc := graphql.SchemaConfig{
		Query:      graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: query}),
		Extensions: cfg.Extensions,
	}
	if len(mutation) > 0 {
		sc.Mutation = graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutation})
	}
	schema, err := graphql.NewSchema(sc)
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("build schema: %w", err)
	}
	return schema, nil
}

func mergeFields(root string, dst, src graphql.Fields) error {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, dup := dst[name]; dup {
			return fmt.Errorf("duplicate %s field %q", root, name)
		}
		dst[name] = src[name]
	}
	return nil
}
