package graph

import "github.com/graphql-go/graphql"

// PingModule serves the liveness check. It never touches resources.
type PingModule struct{}

func (PingModule) Queries() graphql.Fields {
	return graphql.Fields{
		"ping": &graphql.Field{
			Type:        graphql.String,
			Description: `Liveness check; always "pong".`,
			Resolve: func(graphql.ResolveParams) (interface{}, error) {
				return "pong", nil
			},
		},
	}
}

func (PingModule) Mutations() graphql.Fields { return nil }
