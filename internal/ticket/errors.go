package ticket

import (
	"fmt"
	"strings"
)

// DetectionError reports why a connection's server version/capability
// detection failed. It unwraps to ErrDetection.
type DetectionError struct {
	BaseURL string
	Reason  string // "unreachable" or "unparseable-version"
	Detail  string
	Err     error
}

func (e *DetectionError) Error() string {
	msg := fmt.Sprintf("detect %s: %s", e.BaseURL, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DetectionError) Unwrap() error { return ErrDetection }

// AuthAttempt records the outcome of one auth-negotiation candidate.
type AuthAttempt struct {
	Method string
	// Outcome is one of "rejected" (401/403 probe), "unsupported"
	// (capability set excludes the method), "no-credential" (no
	// matching material supplied), or "transient" (retries exhausted).
	Outcome string
	Detail  string
}

func (a AuthAttempt) String() string {
	s := a.Method + ": " + a.Outcome
	if a.Detail != "" {
		s += " (" + a.Detail + ")"
	}
	return s
}

// NegotiationError reports that no auth method could be verified. It
// carries every attempted (or skipped) candidate with its failure
// reason so the user gets an actionable diagnosis. Unwraps to
// ErrNegotiation.
type NegotiationError struct {
	Attempts []AuthAttempt
}

func (e *NegotiationError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.String())
	}
	return "no working auth method: " + strings.Join(parts, "; ")
}

func (e *NegotiationError) Unwrap() error { return ErrNegotiation }

// InvalidTransitionError reports a status update whose target is not in
// the ticket's current transition set. The write was never issued.
// Unwraps to ErrInvalidTransition.
type InvalidTransitionError struct {
	TicketID     string
	FromStatus   string
	TargetStatus string
	Allowed      []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ticket %s: cannot move from %q to %q (allowed: %s)",
		e.TicketID, e.FromStatus, e.TargetStatus, strings.Join(e.Allowed, ", "))
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError carries backend-provided rejection detail verbatim.
// Unwraps to ErrValidation.
type ValidationError struct {
	StatusCode int
	Messages   []string          // Top-level error messages
	Fields     map[string]string // Per-field messages, when provided
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend rejected payload (%d)", e.StatusCode)
	if len(e.Messages) > 0 {
		b.WriteString(": " + strings.Join(e.Messages, "; "))
	}
	for k, v := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", k, v)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
