package provider

import (
	"context"
	"fmt"

	"github.com/trackwell/ticketbridge/internal/backend"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
)

// The connection methods below are the protocol dispatch point: every
// operation switches over the closed variant set. A new backend kind
// fails loudly here until each switch handles it.

func (c *connection) issue(ctx context.Context, id string) (*backend.Issue, error) {
	switch c.kind {
	case kindGraph:
		return c.linear.Issue(ctx, id)
	case kindRestV2, kindRestV3:
		return c.jira.Issue(ctx, id)
	}
	return nil, fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) search(ctx context.Context, query string, opts ticket.SearchOptions) ([]backend.Issue, error) {
	switch c.kind {
	case kindGraph:
		return c.linear.Search(ctx, query, opts)
	case kindRestV2, kindRestV3:
		return c.jira.Search(ctx, query, opts)
	}
	return nil, fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) create(ctx context.Context, req backend.CreateRequest) (*backend.Issue, error) {
	switch c.kind {
	case kindGraph:
		return c.linear.Create(ctx, req)
	case kindRestV2, kindRestV3:
		return c.jira.Create(ctx, req)
	}
	return nil, fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) transitions(ctx context.Context, id string) ([]ticket.Transition, error) {
	switch c.kind {
	case kindGraph:
		return c.linear.Transitions(ctx, id)
	case kindRestV2, kindRestV3:
		return c.jira.Transitions(ctx, id)
	}
	return nil, fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) applyTransition(ctx context.Context, id, transitionID string) error {
	switch c.kind {
	case kindGraph:
		return c.linear.ApplyTransition(ctx, id, transitionID)
	case kindRestV2, kindRestV3:
		return c.jira.ApplyTransition(ctx, id, transitionID)
	}
	return fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) addComment(ctx context.Context, id string, doc richtext.WireDoc) error {
	switch c.kind {
	case kindGraph:
		return c.linear.AddComment(ctx, id, doc)
	case kindRestV2, kindRestV3:
		return c.jira.AddComment(ctx, id, doc)
	}
	return fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) listMetadata(ctx context.Context, kind ticket.MetadataKind) ([]ticket.MetadataItem, error) {
	switch c.kind {
	case kindGraph:
		return c.linear.ListMetadata(ctx, kind)
	case kindRestV2, kindRestV3:
		return c.jira.ListMetadata(ctx, kind)
	}
	return nil, fmt.Errorf("unhandled backend kind %d", c.kind)
}

func (c *connection) currentUser(ctx context.Context) (*ticket.UserInfo, error) {
	switch c.kind {
	case kindGraph:
		return c.linear.CurrentUser(ctx)
	case kindRestV2, kindRestV3:
		return c.jira.CurrentUser(ctx)
	}
	return nil, fmt.Errorf("unhandled backend kind %d", c.kind)
}
