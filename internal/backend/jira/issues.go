package jira

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/trackwell/ticketbridge/internal/backend"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
)

// defaultSearchLimit bounds a search when the caller gives none.
const defaultSearchLimit = 50

// Issue fetches one issue by key or internal ID.
func (c *Client) Issue(ctx context.Context, id string) (*backend.Issue, error) {
	var resp issueResponse
	if err := c.http.Get(ctx, c.api("/issue/"+url.PathEscape(id)), &resp); err != nil {
		return nil, c.mapError(err)
	}
	return c.toIssue(resp)
}

// Search runs a JQL query, scoped to a project when one is given.
func (c *Client) Search(ctx context.Context, query string, opts ticket.SearchOptions) ([]backend.Issue, error) {
	jql := query
	if opts.ProjectKey != "" {
		if jql == "" {
			jql = fmt.Sprintf("project = %q", opts.ProjectKey)
		} else {
			jql = fmt.Sprintf("project = %q AND (%s)", opts.ProjectKey, jql)
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	params := url.Values{}
	params.Set("jql", jql)
	params.Set("maxResults", strconv.Itoa(limit))

	var resp searchResponse
	if err := c.http.Get(ctx, c.api("/search?"+params.Encode()), &resp); err != nil {
		return nil, c.mapError(err)
	}

	issues := make([]backend.Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issue, err := c.toIssue(raw)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, nil
}

// Create creates an issue and fetches it back: the create response
// carries only id and key, not the populated field set.
func (c *Client) Create(ctx context.Context, req backend.CreateRequest) (*backend.Issue, error) {
	fields := map[string]any{
		"project":   map[string]string{"key": req.ProjectKey},
		"summary":   req.Title,
		"issuetype": map[string]string{"name": "Task"},
	}
	if req.Description.ADF != nil || req.Description.Text != "" {
		fields["description"] = c.encodeDescription(req.Description)
	}
	if req.Priority != "" {
		fields["priority"] = map[string]string{"name": req.Priority}
	}
	if req.Assignee != "" {
		fields["assignee"] = c.assigneeValue(req.Assignee)
	}
	for fieldID, value := range req.CustomFields {
		fields[fieldID] = value
	}

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.http.Post(ctx, c.api("/issue"), map[string]any{"fields": fields}, &created); err != nil {
		return nil, c.mapError(err)
	}

	c.logger.Info().
		Str("key", created.Key).
		Str("project", req.ProjectKey).
		Msg("issue created")

	return c.Issue(ctx, created.Key)
}

// assigneeValue formats the assignee per identity scheme: accountId on
// Cloud (v3), username on Server/DC (v2).
func (c *Client) assigneeValue(assignee string) map[string]string {
	if c.profile.Capabilities.APIVersion >= 3 {
		return map[string]string{"accountId": assignee}
	}
	return map[string]string{"name": assignee}
}

// Transitions lists the workflow transitions available from the issue's
// current status.
func (c *Client) Transitions(ctx context.Context, id string) ([]ticket.Transition, error) {
	var resp transitionsResponse
	if err := c.http.Get(ctx, c.api("/issue/"+url.PathEscape(id)+"/transitions"), &resp); err != nil {
		return nil, c.mapError(err)
	}

	transitions := make([]ticket.Transition, 0, len(resp.Transitions))
	for _, t := range resp.Transitions {
		transitions = append(transitions, ticket.Transition{
			ID:       t.ID,
			ToStatus: t.To.Name,
		})
	}
	return transitions, nil
}

// ApplyTransition executes a previously-validated workflow transition.
func (c *Client) ApplyTransition(ctx context.Context, id, transitionID string) error {
	body := map[string]any{
		"transition": map[string]string{"id": transitionID},
	}
	if err := c.http.Post(ctx, c.api("/issue/"+url.PathEscape(id)+"/transitions"), body, nil); err != nil {
		return c.mapError(err)
	}
	return nil
}

// AddComment appends a comment, encoded for the profile's doc format.
func (c *Client) AddComment(ctx context.Context, id string, doc richtext.WireDoc) error {
	body := map[string]any{"body": c.encodeDescription(doc)}
	if err := c.http.Post(ctx, c.api("/issue/"+url.PathEscape(id)+"/comment"), body, nil); err != nil {
		return c.mapError(err)
	}
	return nil
}

// ListMetadata enumerates backend metadata of the requested kind.
func (c *Client) ListMetadata(ctx context.Context, kind ticket.MetadataKind) ([]ticket.MetadataItem, error) {
	switch kind {
	case ticket.MetadataProjects:
		return c.listProjects(ctx)
	case ticket.MetadataStatuses:
		return c.listNamed(ctx, c.api("/status"))
	case ticket.MetadataPriorities:
		return c.listNamed(ctx, c.api("/priority"))
	case ticket.MetadataSprints:
		return c.listSprints(ctx)
	default:
		return nil, fmt.Errorf("%w: metadata kind %q", ticket.ErrUnsupported, kind)
	}
}

func (c *Client) listProjects(ctx context.Context) ([]ticket.MetadataItem, error) {
	var projects []projectValue

	if c.profile.Capabilities.APIVersion >= 3 {
		// v3 dropped the bare listing in favor of a paged search.
		var resp projectSearchResponse
		if err := c.http.Get(ctx, c.api("/project/search"), &resp); err != nil {
			return nil, c.mapError(err)
		}
		projects = resp.Values
	} else {
		if err := c.http.Get(ctx, c.api("/project"), &projects); err != nil {
			return nil, c.mapError(err)
		}
	}

	items := make([]ticket.MetadataItem, 0, len(projects))
	for _, p := range projects {
		items = append(items, ticket.MetadataItem{ID: p.ID, Key: p.Key, Name: p.Name})
	}
	return items, nil
}

func (c *Client) listNamed(ctx context.Context, path string) ([]ticket.MetadataItem, error) {
	var values []namedValue
	if err := c.http.Get(ctx, path, &values); err != nil {
		return nil, c.mapError(err)
	}

	items := make([]ticket.MetadataItem, 0, len(values))
	for _, v := range values {
		items = append(items, ticket.MetadataItem{ID: v.ID, Name: v.Name})
	}
	return items, nil
}

// listSprints walks the agile boards and collects their sprints. The
// provider gates this on the agile capability flag.
func (c *Client) listSprints(ctx context.Context) ([]ticket.MetadataItem, error) {
	var boards boardsResponse
	if err := c.http.Get(ctx, "/rest/agile/1.0/board", &boards); err != nil {
		return nil, c.mapError(err)
	}

	var items []ticket.MetadataItem
	for _, board := range boards.Values {
		var sprints sprintsResponse
		path := fmt.Sprintf("/rest/agile/1.0/board/%d/sprint", board.ID)
		if err := c.http.Get(ctx, path, &sprints); err != nil {
			return nil, c.mapError(err)
		}
		for _, s := range sprints.Values {
			items = append(items, ticket.MetadataItem{
				ID:   strconv.Itoa(s.ID),
				Name: s.Name,
			})
		}
	}
	return items, nil
}

// toIssue normalizes a raw issue into the shared backend shape.
func (c *Client) toIssue(resp issueResponse) (*backend.Issue, error) {
	description, err := c.decodeDescription(resp.Fields.Description)
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", resp.Key, err)
	}

	issue := &backend.Issue{
		ID:           resp.ID,
		Key:          resp.Key,
		Title:        resp.Fields.Summary,
		Description:  description,
		Assignee:     resp.Fields.Assignee.display(),
		CreatedAt:    parseTime(resp.Fields.Created),
		UpdatedAt:    parseTime(resp.Fields.Updated),
		URL:          c.http.BaseURL() + "/browse/" + resp.Key,
		CustomFields: resp.Fields.Custom,
	}
	if resp.Fields.Status != nil {
		issue.Status = resp.Fields.Status.Name
	}
	if resp.Fields.Priority != nil {
		issue.Priority = resp.Fields.Priority.Name
	}
	if resp.Fields.Project != nil {
		issue.ProjectKey = resp.Fields.Project.Key
	}
	return issue, nil
}
