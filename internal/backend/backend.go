// Package backend defines the wire-level types shared by the platform
// clients. Clients speak these types to the provider, which owns
// translation to the consumer-facing Ticket shape: custom fields stay
// keyed by backend field ID and descriptions stay in wire encoding
// until the provider applies the field mapping and document adapter.
package backend

import (
	"time"

	"github.com/trackwell/ticketbridge/internal/richtext"
)

// Issue is a backend-native issue, normalized just enough to be
// platform-agnostic in shape. CustomFields is keyed by raw backend
// field identifier; Description keeps its wire encoding.
type Issue struct {
	ID          string
	Key         string
	Title       string
	Description richtext.WireDoc
	Status      string
	Assignee    string
	Priority    string
	ProjectKey  string
	URL         string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	CustomFields map[string]any
}

// CreateRequest describes an issue to create. The provider has already
// applied the field mapping (CustomFields is keyed by backend field ID)
// and encoded the description for the connection's wire format.
type CreateRequest struct {
	ProjectKey  string
	Title       string
	Description richtext.WireDoc
	Priority    string
	Assignee    string

	CustomFields map[string]any
}
