// Package linear implements the GraphQL backend client. Linear exposes
// a single protocol version and hosted deployment only, so the client
// carries no version switching: one endpoint, API-key auth, markdown
// documents.
package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/phuslu/log"

	"github.com/trackwell/ticketbridge/internal/auth"
	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// graphqlPath is the single GraphQL endpoint, relative to the
// connection's base URL.
const graphqlPath = "/graphql"

// apiKeyAuth sends the personal API key as a raw Authorization header.
// Linear rejects the Bearer scheme for personal keys.
type apiKeyAuth struct {
	key string
}

func (a apiKeyAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", a.key)
}

// Client is the Linear GraphQL client.
type Client struct {
	http   *transport.Client
	logger log.Logger
}

// Ensure the client satisfies the negotiation probe contract.
var _ auth.Prober = (*Client)(nil)

// NewClient wraps the transport. The client starts unauthenticated;
// Authenticate locks in the key once negotiation verifies it.
func NewClient(httpClient *transport.Client, logger log.Logger) *Client {
	return &Client{http: httpClient, logger: logger}
}

// Authenticate locks the verified API key into the client.
func (c *Client) Authenticate(_ capability.AuthMethod, creds auth.Credentials) {
	c.http = c.http.WithAuthorizer(apiKeyAuth{key: creds.Token})
}

// graphqlRequest is the wire shape of one query or mutation.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL envelope. Errors arrive with
// HTTP 200; the extensions code classifies them.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

// execute runs one GraphQL operation and unmarshals the data envelope
// into out. Transport-level retry covers 429/5xx; envelope errors are
// classified onto the error taxonomy here.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	req := graphqlRequest{Query: query, Variables: variables}

	var resp graphqlResponse
	if err := c.http.Post(ctx, graphqlPath, req, &resp); err != nil {
		return err
	}

	if len(resp.Errors) > 0 {
		messages := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			messages = append(messages, e.Message)
		}
		joined := strings.Join(messages, "; ")

		switch resp.Errors[0].Extensions.Code {
		case "AUTHENTICATION_ERROR", "FORBIDDEN":
			return fmt.Errorf("%w: %s", ticket.ErrPermission, joined)
		case "RATELIMITED":
			return fmt.Errorf("%w: %s", ticket.ErrTransient, joined)
		case "ENTITY_NOT_FOUND":
			return fmt.Errorf("%w: %s", ticket.ErrNotFound, joined)
		default:
			return fmt.Errorf("%w: %s", ticket.ErrValidation, joined)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return nil
}

// Probe verifies a candidate API key with the viewer query, without
// touching the client's own authorizer.
func (c *Client) Probe(ctx context.Context, method capability.AuthMethod, creds auth.Credentials) (*ticket.UserInfo, error) {
	if method != capability.AuthToken {
		return nil, fmt.Errorf("%w: auth method %q", ticket.ErrUnsupported, method)
	}

	probe := &Client{
		http:   c.http.WithAuthorizer(apiKeyAuth{key: creds.Token}),
		logger: c.logger,
	}
	return probe.CurrentUser(ctx)
}

// CurrentUser reports the identity behind the locked-in API key.
func (c *Client) CurrentUser(ctx context.Context) (*ticket.UserInfo, error) {
	var data struct {
		Viewer struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
		} `json:"viewer"`
	}
	if err := c.execute(ctx, queryViewer, nil, &data); err != nil {
		return nil, err
	}
	return &ticket.UserInfo{
		AccountID:   data.Viewer.ID,
		Username:    data.Viewer.Name,
		DisplayName: data.Viewer.DisplayName,
		Email:       data.Viewer.Email,
	}, nil
}
