package linear

import (
	"context"

	"github.com/trackwell/ticketbridge/internal/fieldmap"
)

// Backend field identifiers. Linear has no free-form custom fields;
// the semantic set maps onto fixed issue attributes, declared here as
// a static schema for the field-mapping resolver.
const (
	fieldEstimate = "estimate"
	fieldParent   = "parent"
	fieldCycle    = "cycle"
	fieldTeam     = "team"
	fieldDueDate  = "dueDate"
)

// Ensure the client can feed the field-mapping resolver.
var _ fieldmap.Source = (*Client)(nil)

// ProjectFields declares the fixed attribute schema. The declarations
// are identical for every team; resolution still caches per project
// key like any other backend.
func (c *Client) ProjectFields(_ context.Context, _ string) ([]fieldmap.BackendField, error) {
	return []fieldmap.BackendField{
		{ID: fieldEstimate, Name: "Estimate"},
		{ID: fieldParent, Name: "Parent"},
		{ID: fieldCycle, Name: "Cycle"},
		{ID: fieldTeam, Name: "Team"},
		{ID: fieldDueDate, Name: "Due Date"},
	}, nil
}
