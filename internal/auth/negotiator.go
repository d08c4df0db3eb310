package auth

import (
	"context"
	"errors"

	"github.com/phuslu/log"

	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// methodOrder is the preferred-to-fallback candidate order: token-based
// before basic-credential.
var methodOrder = []capability.AuthMethod{capability.AuthToken, capability.AuthBasic}

// Prober performs one lightweight authenticated call (current-user
// identity) with the candidate method applied. Implemented per backend.
// A 401/403 must surface as ticket.ErrPermission; transient failures
// are retried by the prober's transport and surface as
// ticket.ErrTransient after exhaustion.
type Prober interface {
	Probe(ctx context.Context, method capability.AuthMethod, creds Credentials) (*ticket.UserInfo, error)
}

// Negotiator selects a working auth method for a detected profile.
type Negotiator struct {
	Logger log.Logger
}

// Negotiate iterates the candidate methods, filtered to those declared
// in the profile's capability set and backed by supplied material, and
// probes each until one succeeds. The returned profile has
// NegotiatedAuth locked in for its lifetime. If no candidate succeeds
// the *ticket.NegotiationError lists every method with why it failed or
// was skipped; an unverified method is never selected.
func (n *Negotiator) Negotiate(
	ctx context.Context,
	profile capability.ServerProfile,
	creds Credentials,
	prober Prober,
) (capability.ServerProfile, *ticket.UserInfo, error) {
	var attempts []ticket.AuthAttempt

	for _, method := range methodOrder {
		if !profile.Capabilities.SupportsAuth(method) {
			attempts = append(attempts, ticket.AuthAttempt{
				Method:  string(method),
				Outcome: "unsupported",
				Detail:  "not in capability set for " + profile.String(),
			})
			continue
		}
		if !hasMaterial(method, creds) {
			attempts = append(attempts, ticket.AuthAttempt{
				Method:  string(method),
				Outcome: "no-credential",
				Detail:  "no matching credential material supplied",
			})
			continue
		}

		user, err := prober.Probe(ctx, method, creds)
		if err == nil {
			n.Logger.Info().
				Str("method", string(method)).
				Str("user", user.DisplayName).
				Msg("auth method negotiated")
			return profile.WithAuth(method), user, nil
		}

		if ctx.Err() != nil {
			return capability.ServerProfile{}, nil, ctx.Err()
		}

		switch {
		case errors.Is(err, ticket.ErrPermission):
			attempts = append(attempts, ticket.AuthAttempt{
				Method:  string(method),
				Outcome: "rejected",
				Detail:  err.Error(),
			})
		case errors.Is(err, ticket.ErrTransient):
			attempts = append(attempts, ticket.AuthAttempt{
				Method:  string(method),
				Outcome: "transient",
				Detail:  err.Error(),
			})
		default:
			attempts = append(attempts, ticket.AuthAttempt{
				Method:  string(method),
				Outcome: "error",
				Detail:  err.Error(),
			})
		}

		n.Logger.Warn().
			Str("method", string(method)).
			Err(err).
			Msg("auth probe failed, trying next candidate")
	}

	return capability.ServerProfile{}, nil, &ticket.NegotiationError{Attempts: attempts}
}

func hasMaterial(method capability.AuthMethod, creds Credentials) bool {
	switch method {
	case capability.AuthToken:
		return creds.HasToken()
	case capability.AuthBasic:
		return creds.HasBasic()
	default:
		return false
	}
}

// AuthorizerFor builds the transport authorizer for a locked method,
// shared by both backend families.
func AuthorizerFor(method capability.AuthMethod, creds Credentials) transport.Authorizer {
	if method == capability.AuthToken {
		return transport.BearerAuth{Token: creds.Token}
	}
	return transport.BasicAuth{Username: creds.Username, Secret: creds.Secret}
}
