// Package provider assembles detection, auth negotiation, field
// mapping, and document translation behind the uniform ticket.Provider
// contract. One Provider serves one configured connection; its backend
// variant is a closed set (GraphQL, REST v2, REST v3) dispatched by
// tag, so adding a protocol means touching every operation switch
// rather than silently inheriting defaults.
package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"github.com/trackwell/ticketbridge/internal/auth"
	"github.com/trackwell/ticketbridge/internal/backend"
	"github.com/trackwell/ticketbridge/internal/backend/jira"
	"github.com/trackwell/ticketbridge/internal/backend/linear"
	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/detect"
	"github.com/trackwell/ticketbridge/internal/fieldmap"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// backendKind tags the connection's protocol variant.
type backendKind int

const (
	kindGraph backendKind = iota // Linear GraphQL
	kindRestV2                   // Jira REST v2 (Server/DC)
	kindRestV3                   // Jira REST v3 (Cloud)
)

// Config describes one connection.
type Config struct {
	// Connection is the user-facing connection name, used in logs and
	// as the credential-store key.
	Connection string

	Backend        capability.Backend
	BaseURL        string
	DeploymentHint capability.Deployment

	Credentials auth.Credentials

	// OnWarning receives non-fatal diagnostics (lossy document
	// translation, skipped field writes). Optional; warnings are
	// always logged regardless.
	OnWarning func(ticket.Warning)

	Logger log.Logger

	// TransportOptions is passed through to the HTTP core (tests
	// inject their server and retry config here).
	TransportOptions []transport.Option
}

// connection is the live, negotiated state. Exactly one client pointer
// is non-nil, selected by kind. Immutable once published.
type connection struct {
	kind    backendKind
	profile capability.ServerProfile
	user    *ticket.UserInfo
	jira    *jira.Client
	linear  *linear.Client
	fields  *fieldmap.Resolver
}

// Provider is the uniform entry point for one connection. Detection and
// negotiation run lazily on first use and are single-flighted; a failed
// or cancelled connect publishes nothing, so the next call retries from
// scratch.
type Provider struct {
	cfg    Config
	logger log.Logger
	http   *transport.Client

	group singleflight.Group
	mu    sync.RWMutex
	conn  *connection
}

var _ ticket.Provider = (*Provider)(nil)

// New creates a provider for the connection. No network traffic happens
// until the first operation.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	return &Provider{
		cfg:    cfg,
		logger: logger,
		http:   transport.New(cfg.BaseURL, append([]transport.Option{transport.WithLogger(logger)}, cfg.TransportOptions...)...),
	}
}

// Profile returns the negotiated server profile, connecting first if
// needed.
func (p *Provider) Profile(ctx context.Context) (capability.ServerProfile, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return capability.ServerProfile{}, err
	}
	return conn.profile, nil
}

// Reconnect drops the cached connection state; the next operation
// re-runs detection and negotiation. This is the only path that
// refreshes a profile.
func (p *Provider) Reconnect() {
	p.mu.Lock()
	p.conn = nil
	p.mu.Unlock()
}

// connect returns the live connection, establishing it on first use.
func (p *Provider) connect(ctx context.Context) (*connection, error) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn != nil {
		return conn, nil
	}

	result, err, _ := p.group.Do("connect", func() (any, error) {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn != nil {
			return conn, nil
		}

		established, err := p.establish(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.conn = established
		p.mu.Unlock()
		return established, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*connection), nil
}

// establish runs detection then negotiation and builds the variant.
func (p *Provider) establish(ctx context.Context) (*connection, error) {
	detector := &detect.Detector{Client: p.http, Logger: p.logger}
	profile, err := detector.Detect(ctx, detect.Target{
		Backend:        p.cfg.Backend,
		BaseURL:        p.cfg.BaseURL,
		DeploymentHint: p.cfg.DeploymentHint,
	})
	if err != nil {
		return nil, err
	}

	conn := &connection{profile: profile}
	var prober auth.Prober

	switch profile.Backend {
	case capability.BackendLinear:
		conn.kind = kindGraph
		conn.linear = linear.NewClient(p.http, p.logger)
		prober = conn.linear
	case capability.BackendJira:
		if profile.Capabilities.APIVersion >= 3 {
			conn.kind = kindRestV3
		} else {
			conn.kind = kindRestV2
		}
		conn.jira = jira.NewClient(p.http, profile, p.logger)
		prober = conn.jira
	default:
		return nil, fmt.Errorf("%w: backend %q", ticket.ErrUnsupported, profile.Backend)
	}

	negotiator := &auth.Negotiator{Logger: p.logger}
	negotiated, user, err := negotiator.Negotiate(ctx, profile, p.cfg.Credentials, prober)
	if err != nil {
		return nil, err
	}
	conn.profile = negotiated
	conn.user = user

	switch conn.kind {
	case kindGraph:
		conn.linear.Authenticate(negotiated.NegotiatedAuth, p.cfg.Credentials)
		conn.fields = fieldmap.NewResolver(conn.linear, negotiated.Capabilities.FieldSchemaIntrospection, p.logger)
	default:
		conn.jira.Authenticate(negotiated.NegotiatedAuth, p.cfg.Credentials)
		conn.fields = fieldmap.NewResolver(conn.jira, negotiated.Capabilities.FieldSchemaIntrospection, p.logger)
	}

	p.logger.Info().
		Str("connection", p.cfg.Connection).
		Str("profile", negotiated.String()).
		Msg("connection established")

	return conn, nil
}

// warn logs a non-fatal diagnostic and forwards it to the configured
// sink.
func (p *Provider) warn(w ticket.Warning) {
	p.logger.Warn().
		Str("connection", p.cfg.Connection).
		Str("kind", string(w.Kind)).
		Str("field", string(w.Field)).
		Msg(w.Detail)
	if p.cfg.OnWarning != nil {
		p.cfg.OnWarning(w)
	}
}

// GetTicket fetches a ticket and translates it into the agnostic shape.
func (p *Provider) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	issue, err := conn.issue(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.toTicket(ctx, conn, issue)
}

// Search lists matching tickets.
func (p *Provider) Search(ctx context.Context, query string, opts ticket.SearchOptions) ([]ticket.Ticket, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	issues, err := conn.search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	tickets := make([]ticket.Ticket, 0, len(issues))
	for i := range issues {
		t, err := p.toTicket(ctx, conn, &issues[i])
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, nil
}

// Create translates the input for the backend and creates the ticket.
// Unmapped semantic fields are skipped with a warning; lossy document
// constructs degrade with a warning. Neither fails the create.
func (p *Provider) Create(ctx context.Context, input ticket.CreateInput) (*ticket.Ticket, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := backend.CreateRequest{
		ProjectKey: input.ProjectKey,
		Title:      input.Title,
		Priority:   input.Priority,
		Assignee:   input.Assignee,
	}

	req.Description = p.encodeDoc(conn, input.Description)

	if len(input.Fields) > 0 {
		mapping, err := conn.fields.Resolve(ctx, input.ProjectKey)
		if err != nil {
			return nil, err
		}
		req.CustomFields = make(map[string]any)
		for _, semantic := range ticket.SemanticFields() {
			value, present := input.Fields[semantic]
			if !present {
				continue
			}
			ref, mapped := mapping.Lookup(semantic)
			if !mapped {
				p.warn(ticket.Warning{
					Kind:   ticket.WarnFieldUnmapped,
					Field:  semantic,
					Detail: fmt.Sprintf("no backend field matched in project %s, value skipped", input.ProjectKey),
				})
				continue
			}
			req.CustomFields[ref.ID] = value
		}
	}

	issue, err := conn.create(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.toTicket(ctx, conn, issue)
}

// UpdateStatus moves a ticket to the target status. The target is
// validated against the backend's declared transitions first; an
// out-of-set target fails without issuing any write.
func (p *Provider) UpdateStatus(ctx context.Context, id, targetStatus string) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}

	issue, err := conn.issue(ctx, id)
	if err != nil {
		return err
	}

	transitions, err := conn.transitions(ctx, id)
	if err != nil {
		return err
	}

	allowed := make([]string, 0, len(transitions))
	for _, t := range transitions {
		if strings.EqualFold(t.ToStatus, targetStatus) {
			return conn.applyTransition(ctx, id, t.ID)
		}
		allowed = append(allowed, t.ToStatus)
	}

	return &ticket.InvalidTransitionError{
		TicketID:     id,
		FromStatus:   issue.Status,
		TargetStatus: targetStatus,
		Allowed:      allowed,
	}
}

// AddComment appends a comment, translated to the backend's document
// format.
func (p *Provider) AddComment(ctx context.Context, id string, body *richtext.Doc) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	return conn.addComment(ctx, id, p.encodeDoc(conn, body))
}

// ListMetadata enumerates metadata of the requested kind, gated on the
// connection's capability set.
func (p *Provider) ListMetadata(ctx context.Context, kind ticket.MetadataKind) ([]ticket.MetadataItem, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	if kind == ticket.MetadataSprints && !conn.profile.Capabilities.AgileEndpoints {
		return nil, fmt.Errorf("%w: sprint listing", ticket.ErrUnsupported)
	}
	return conn.listMetadata(ctx, kind)
}

// CurrentUser reports the negotiated identity without a network call;
// the identity was verified during the auth probe.
func (p *Provider) CurrentUser(ctx context.Context) (*ticket.UserInfo, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	if conn.user != nil {
		return conn.user, nil
	}
	return conn.currentUser(ctx)
}

// InvalidateFields drops the cached field mapping for a project.
func (p *Provider) InvalidateFields(projectKey string) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn != nil {
		conn.fields.Invalidate(projectKey)
	}
}

// encodeDoc renders a semantic document for the connection's wire
// format, surfacing each degradation as a warning.
func (p *Provider) encodeDoc(conn *connection, doc *richtext.Doc) richtext.WireDoc {
	wire, degradations := richtext.ToWire(doc, conn.profile.Capabilities.DocFormat)
	for _, d := range degradations {
		p.warn(ticket.Warning{
			Kind:   ticket.WarnTranslationDegraded,
			Detail: d.Construct + ": " + d.Detail,
		})
	}
	return wire
}

// toTicket translates a backend issue into the agnostic shape: parse
// the description and map raw custom-field values back onto semantic
// fields.
func (p *Provider) toTicket(ctx context.Context, conn *connection, issue *backend.Issue) (*ticket.Ticket, error) {
	t := &ticket.Ticket{
		ID:         issue.ID,
		Key:        issue.Key,
		Title:      issue.Title,
		Status:     issue.Status,
		Assignee:   issue.Assignee,
		Priority:   issue.Priority,
		ProjectKey: issue.ProjectKey,
		URL:        issue.URL,
		CreatedAt:  issue.CreatedAt,
		UpdatedAt:  issue.UpdatedAt,
	}

	if issue.Description.ADF != nil || issue.Description.Text != "" {
		doc, err := richtext.FromWire(issue.Description)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", issue.Key, err)
		}
		t.Description = doc
	}

	if len(issue.CustomFields) > 0 && issue.ProjectKey != "" {
		mapping, err := conn.fields.Resolve(ctx, issue.ProjectKey)
		if err != nil {
			return nil, err
		}
		for _, semantic := range ticket.SemanticFields() {
			ref, mapped := mapping.Lookup(semantic)
			if !mapped {
				continue
			}
			value, present := issue.CustomFields[ref.ID]
			if !present {
				continue
			}
			if t.Fields == nil {
				t.Fields = make(map[ticket.SemanticField]any)
			}
			t.Fields[semantic] = value
		}
	}

	return t, nil
}
