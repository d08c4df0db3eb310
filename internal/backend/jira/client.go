// Package jira implements the REST backend client for Jira Cloud (API
// v3) and Server/Data Center (API v2). The two versions differ in path
// prefix, description encoding (ADF vs. plain text), and identity
// scheme; the client folds those differences behind the shared backend
// types so the provider never branches on API version.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"github.com/trackwell/ticketbridge/internal/auth"
	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// Client is a version-aware Jira REST client.
type Client struct {
	http    *transport.Client
	profile capability.ServerProfile
	logger  log.Logger
}

// Ensure the client satisfies the negotiation probe contract.
var _ auth.Prober = (*Client)(nil)

// NewClient wraps the transport for the detected profile. The client
// starts unauthenticated; Authenticate locks in the negotiated method.
func NewClient(httpClient *transport.Client, profile capability.ServerProfile, logger log.Logger) *Client {
	return &Client{
		http:    httpClient,
		profile: profile,
		logger:  logger,
	}
}

// api prefixes a path with the profile's REST version.
func (c *Client) api(path string) string {
	return fmt.Sprintf("/rest/api/%d%s", c.profile.Capabilities.APIVersion, path)
}

// Authenticate locks the negotiated auth method into the client. Called
// once, before concurrent operation begins.
func (c *Client) Authenticate(method capability.AuthMethod, creds auth.Credentials) {
	c.http = c.http.WithAuthorizer(auth.AuthorizerFor(method, creds))
}

// Probe performs the lightweight identity call with the candidate
// method applied, without touching the client's own authorizer.
func (c *Client) Probe(ctx context.Context, method capability.AuthMethod, creds auth.Credentials) (*ticket.UserInfo, error) {
	probe := c.http.WithAuthorizer(auth.AuthorizerFor(method, creds))

	var me myselfResponse
	if err := probe.Get(ctx, c.api("/myself"), &me); err != nil {
		return nil, c.mapError(err)
	}
	return userInfo(me), nil
}

// CurrentUser reports the identity of the locked-in credentials.
func (c *Client) CurrentUser(ctx context.Context) (*ticket.UserInfo, error) {
	var me myselfResponse
	if err := c.http.Get(ctx, c.api("/myself"), &me); err != nil {
		return nil, c.mapError(err)
	}
	return userInfo(me), nil
}

func userInfo(me myselfResponse) *ticket.UserInfo {
	return &ticket.UserInfo{
		AccountID:   me.AccountID,
		Username:    me.Name,
		DisplayName: me.DisplayName,
		Email:       me.EmailAddress,
	}
}

// mapError enriches transport failures with Jira's error body: payload
// rejections carry errorMessages/errors detail worth surfacing verbatim.
func (c *Client) mapError(err error) error {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	switch statusErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		var body errorResponse
		if unmarshalErr := json.Unmarshal(statusErr.Body, &body); unmarshalErr == nil {
			if len(body.ErrorMessages) > 0 || len(body.Errors) > 0 {
				return &ticket.ValidationError{
					StatusCode: statusErr.StatusCode,
					Messages:   body.ErrorMessages,
					Fields:     body.Errors,
				}
			}
		}
	}
	return err
}

// encodeDescription renders a wire document as the JSON value Jira
// expects in a description or comment body slot: an ADF object on v3,
// a string on v2.
func (c *Client) encodeDescription(doc richtext.WireDoc) any {
	if doc.Format == richtext.FormatADF {
		return doc.ADF
	}
	return doc.Text
}

// decodeDescription parses a raw description value per the profile's
// document format. Absent or null descriptions yield an empty doc.
func (c *Client) decodeDescription(raw json.RawMessage) (richtext.WireDoc, error) {
	format := c.profile.Capabilities.DocFormat

	if len(raw) == 0 || string(raw) == "null" {
		return richtext.WireDoc{Format: format}, nil
	}

	if format == richtext.FormatADF {
		var node richtext.ADFNode
		if err := json.Unmarshal(raw, &node); err != nil {
			return richtext.WireDoc{}, fmt.Errorf("parse ADF description: %w", err)
		}
		return richtext.WireDoc{Format: richtext.FormatADF, ADF: &node}, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return richtext.WireDoc{}, fmt.Errorf("parse description: %w", err)
	}
	return richtext.WireDoc{Format: format, Text: text}, nil
}

// parseTime tolerates an absent timestamp; Jira omits them on some
// partial responses.
func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(jiraTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
