// Package capability models what a given backend instance can do. The
// mapping from (deployment kind, server version) to capability flags is
// a static, versioned lookup table: adding a new backend release is a
// data change, not a logic change.
package capability

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/trackwell/ticketbridge/internal/richtext"
)

// Backend identifies a backend family.
type Backend string

// Backend families.
const (
	BackendJira   Backend = "jira"
	BackendLinear Backend = "linear"
)

// Deployment identifies how a backend instance is hosted.
type Deployment string

// Deployment kinds. Server and DataCenter expose identical APIs but
// differ in licensing; they share capability rows.
const (
	DeploymentCloud      Deployment = "cloud"
	DeploymentServer     Deployment = "server"
	DeploymentDataCenter Deployment = "dataCenter"
)

// AuthMethod is one way of authenticating against a backend, in
// preference order: token-based before basic-credential.
type AuthMethod string

// Auth methods.
const (
	AuthToken AuthMethod = "token" // PAT bearer (Jira 8.14+), API key (Linear)
	AuthBasic AuthMethod = "basic" // Username + password/API-token basic auth
)

// APIVersion is the REST API major version a Jira instance speaks.
// Linear has a single GraphQL protocol version; its profile carries
// APIVersion 0.
type APIVersion int

// Set is the fixed set of capability flags for one backend instance.
// Derived purely from (deployment, version); never mutated after
// creation.
type Set struct {
	AuthMethods              []AuthMethod
	APIVersion               APIVersion
	DocFormat                richtext.Format
	BulkOperations           bool
	FieldSchemaIntrospection bool
	AgileEndpoints           bool
}

// SupportsAuth reports whether the method is in the set.
func (s Set) SupportsAuth(m AuthMethod) bool {
	for _, have := range s.AuthMethods {
		if have == m {
			return true
		}
	}
	return false
}

// ServerProfile is the negotiated identity of one connection's backend.
// Immutable once computed; recomputed only on explicit reconnect.
// Invariant: NegotiatedAuth is a member of Capabilities.AuthMethods.
type ServerProfile struct {
	Backend        Backend
	Deployment     Deployment
	Version        *semver.Version // nil for Linear (single protocol version)
	Capabilities   Set
	NegotiatedAuth AuthMethod
}

// WithAuth returns a copy of the profile with the negotiated method
// set. It panics if the method is outside the capability set: callers
// negotiate from the declared methods only, so a violation is a
// programming error, not an input error.
func (p ServerProfile) WithAuth(m AuthMethod) ServerProfile {
	if !p.Capabilities.SupportsAuth(m) {
		panic(fmt.Sprintf("auth method %q not in capability set", m))
	}
	p.NegotiatedAuth = m
	return p
}

// String renders the profile for logs and diagnostics.
func (p ServerProfile) String() string {
	version := "-"
	if p.Version != nil {
		version = p.Version.String()
	}
	return fmt.Sprintf("%s/%s %s api=v%d auth=%s doc=%s",
		p.Backend, p.Deployment, version,
		p.Capabilities.APIVersion, p.NegotiatedAuth, p.Capabilities.DocFormat)
}
