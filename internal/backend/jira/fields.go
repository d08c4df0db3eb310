package jira

import (
	"context"

	"github.com/trackwell/ticketbridge/internal/fieldmap"
)

// Ensure the client can feed the field-mapping resolver.
var _ fieldmap.Source = (*Client)(nil)

// ProjectFields lists the instance's field declarations in declaration
// order. Jira's field registry is instance-global; the registry endpoint
// returns an array, which is what preserves the order the ambiguity
// rule depends on. The projectKey parameter scopes the mapping cache,
// not this call.
func (c *Client) ProjectFields(ctx context.Context, projectKey string) ([]fieldmap.BackendField, error) {
	var declared []fieldDeclaration
	if err := c.http.Get(ctx, c.api("/field"), &declared); err != nil {
		return nil, c.mapError(err)
	}

	fields := make([]fieldmap.BackendField, 0, len(declared))
	for _, d := range declared {
		fields = append(fields, fieldmap.BackendField{ID: d.ID, Name: d.Name})
	}
	return fields, nil
}
