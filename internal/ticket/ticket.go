// Package ticket defines the backend-agnostic ticket model and the
// Provider interface for dual-backend operation. Both the Jira and
// Linear backends translate to/from these types, enabling consumers to
// work with either platform through a unified API.
package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/trackwell/ticketbridge/internal/richtext"
)

// SemanticField names a platform-agnostic custom field. The set is
// closed: per-project resolution maps each of these to a
// backend-specific field identifier (or leaves it unmapped).
type SemanticField string

// The semantic fields known to the system.
const (
	FieldStoryPoints SemanticField = "storyPoints"
	FieldEpicLink    SemanticField = "epicLink"
	FieldSprint      SemanticField = "sprint"
	FieldTeam        SemanticField = "team"
	FieldDueDate     SemanticField = "dueDate"
)

// SemanticFields lists every known semantic field in a stable order.
func SemanticFields() []SemanticField {
	return []SemanticField{
		FieldStoryPoints,
		FieldEpicLink,
		FieldSprint,
		FieldTeam,
		FieldDueDate,
	}
}

// Ticket is the backend-agnostic issue type. One Ticket always maps to
// exactly one backend-native issue; there are no merge/split semantics.
// Consumers never see wire-format documents or raw backend field IDs.
type Ticket struct {
	ID          string // Backend-internal identifier
	Key         string // Human-facing display key (e.g. PROJ-123, ENG-42)
	Title       string
	Description *richtext.Doc // nil when the issue has no description
	Status      string
	Assignee    string
	Priority    string
	ProjectKey  string
	URL         string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Fields holds semantic custom-field values. Only mapped fields
	// appear; values are backend-normalized (float64 for points,
	// string for epic/team/sprint identifiers).
	Fields map[SemanticField]any
}

// CreateInput describes a ticket to be created.
type CreateInput struct {
	ProjectKey  string
	Title       string
	Description *richtext.Doc
	Priority    string
	Assignee    string
	Fields      map[SemanticField]any
}

// UserInfo identifies the authenticated user, as reported by the
// backend during an auth probe or whoami call.
type UserInfo struct {
	AccountID   string
	Username    string
	DisplayName string
	Email       string
}

// Transition is one allowed status change for a ticket in its current
// state, as declared by the backend's workflow.
type Transition struct {
	ID       string // Backend transition identifier
	ToStatus string // Resulting status name
}

// MetadataKind selects what ListMetadata returns.
type MetadataKind string

// Metadata kinds supported by ListMetadata.
const (
	MetadataProjects   MetadataKind = "projects"
	MetadataStatuses   MetadataKind = "statuses"
	MetadataPriorities MetadataKind = "priorities"
	MetadataSprints    MetadataKind = "sprints"
)

// MetadataItem is one entry of a metadata listing.
type MetadataItem struct {
	ID   string
	Key  string
	Name string
}

// SearchOptions bounds a search operation.
type SearchOptions struct {
	ProjectKey string // Optional project filter
	Limit      int    // 0 means backend default
}

// Provider is the uniform contract every consuming layer programs
// against. Implementations must be safe for concurrent reads once the
// connection's server profile has been negotiated.
type Provider interface {
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	Search(ctx context.Context, query string, opts SearchOptions) ([]Ticket, error)
	Create(ctx context.Context, input CreateInput) (*Ticket, error)
	UpdateStatus(ctx context.Context, id, targetStatus string) error
	AddComment(ctx context.Context, id string, body *richtext.Doc) error
	ListMetadata(ctx context.Context, kind MetadataKind) ([]MetadataItem, error)

	// CurrentUser reports the identity the connection is operating as.
	CurrentUser(ctx context.Context) (*UserInfo, error)
}

// Backend-agnostic errors. All backend implementations map their
// wire-level failures onto these for consistent handling upstream.
var (
	// ErrNotFound is returned when a ticket, project, or transition
	// target doesn't exist.
	ErrNotFound = errors.New("ticket not found")

	// ErrDetection is returned when the backend's version cannot be
	// determined; the connection must not proceed with an assumed
	// capability set.
	ErrDetection = errors.New("server detection failed")

	// ErrNegotiation is returned when no authentication method could
	// be verified for the connection.
	ErrNegotiation = errors.New("auth negotiation failed")

	// ErrInvalidTransition is returned when a status update targets a
	// state outside the ticket's declared transition set.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPermission is returned when the backend rejects the caller's
	// credentials for an operation (401/403 outside negotiation).
	ErrPermission = errors.New("permission denied")

	// ErrValidation is returned when the backend rejects payload
	// content; the wrapped error carries backend-provided detail.
	ErrValidation = errors.New("backend rejected payload")

	// ErrTransient is returned after retry exhaustion on timeouts and
	// 5xx responses.
	ErrTransient = errors.New("transient backend failure")

	// ErrUnsupported is returned when the negotiated capability set
	// does not include the requested operation.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// IsRetryable reports whether the error is potentially transient and
// the operation may be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// WarningKind classifies non-fatal degradations surfaced alongside a
// successful operation.
type WarningKind string

// Warning kinds.
const (
	// WarnTranslationDegraded marks a lossy document approximation
	// (e.g. nested structure flattened for a plain-text backend).
	WarnTranslationDegraded WarningKind = "translation-degraded"

	// WarnFieldUnmapped marks a semantic field write skipped because
	// no backend field matched for the project.
	WarnFieldUnmapped WarningKind = "field-unmapped"

	// WarnFieldAmbiguous marks a semantic field resolved by
	// first-match among multiple candidates.
	WarnFieldAmbiguous WarningKind = "field-ambiguous"
)

// Warning is a non-fatal diagnostic. Warnings never fail the operation
// that produced them.
type Warning struct {
	Kind   WarningKind
	Field  SemanticField // Set for field warnings
	Detail string
}

func (w Warning) String() string {
	if w.Field != "" {
		return string(w.Kind) + " (" + string(w.Field) + "): " + w.Detail
	}
	return string(w.Kind) + ": " + w.Detail
}
