package linear

import (
	"context"
	"fmt"
	"strings"

	"github.com/trackwell/ticketbridge/internal/backend"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
)

// defaultSearchLimit bounds a search when the caller gives none.
const defaultSearchLimit = 50

// Issue fetches one issue by identifier (ENG-42) or UUID; the issue
// query accepts both.
func (c *Client) Issue(ctx context.Context, id string) (*backend.Issue, error) {
	var data struct {
		Issue *issueNode `json:"issue"`
	}
	if err := c.execute(ctx, queryIssue, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Issue == nil {
		return nil, fmt.Errorf("%w: issue %s", ticket.ErrNotFound, id)
	}
	return toIssue(*data.Issue), nil
}

// Search lists issues matching the term, scoped to a team when a
// project key is given.
func (c *Client) Search(ctx context.Context, query string, opts ticket.SearchOptions) ([]backend.Issue, error) {
	filter := map[string]any{}
	if opts.ProjectKey != "" {
		filter["team"] = map[string]any{"key": map[string]any{"eq": opts.ProjectKey}}
	}
	if query != "" {
		filter["title"] = map[string]any{"containsIgnoreCase": query}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var data struct {
		Issues struct {
			Nodes []issueNode `json:"nodes"`
		} `json:"issues"`
	}
	variables := map[string]any{"filter": filter, "first": limit}
	if err := c.execute(ctx, queryIssues, variables, &data); err != nil {
		return nil, err
	}

	issues := make([]backend.Issue, 0, len(data.Issues.Nodes))
	for _, node := range data.Issues.Nodes {
		issues = append(issues, *toIssue(node))
	}
	return issues, nil
}

// Create creates an issue on the team named by the project key. Custom
// field values arrive keyed by backend field ID and translate onto the
// create input's native slots.
func (c *Client) Create(ctx context.Context, req backend.CreateRequest) (*backend.Issue, error) {
	team, err := c.teamByKey(ctx, req.ProjectKey)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"teamId": team.ID,
		"title":  req.Title,
	}
	if req.Description.Text != "" {
		input["description"] = req.Description.Text
	}
	for fieldID, value := range req.CustomFields {
		switch fieldID {
		case fieldEstimate:
			input["estimate"] = value
		case fieldParent:
			// The mutation wants the parent's UUID; values read from
			// another ticket are identifiers (ENG-42), so resolve
			// through a fetch the way AddComment does.
			parent, err := c.Issue(ctx, fmt.Sprint(value))
			if err != nil {
				return nil, fmt.Errorf("resolve parent %v: %w", value, err)
			}
			input["parentId"] = parent.ID
		case fieldCycle:
			input["cycleId"] = value
		case fieldDueDate:
			input["dueDate"] = value
		case fieldTeam:
			// The team is fixed by the create's project key. A matching
			// value is redundant; a conflicting one must not be dropped
			// silently.
			if team := fmt.Sprint(value); !strings.EqualFold(team, req.ProjectKey) {
				return nil, fmt.Errorf("%w: team %q conflicts with create target %q",
					ticket.ErrValidation, team, req.ProjectKey)
			}
		}
	}

	var data struct {
		IssueCreate struct {
			Success bool       `json:"success"`
			Issue   *issueNode `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.execute(ctx, mutationIssueCreate, map[string]any{"input": input}, &data); err != nil {
		return nil, err
	}
	if !data.IssueCreate.Success || data.IssueCreate.Issue == nil {
		return nil, fmt.Errorf("%w: issue create reported failure", ticket.ErrValidation)
	}

	c.logger.Info().
		Str("identifier", data.IssueCreate.Issue.Identifier).
		Str("team", req.ProjectKey).
		Msg("issue created")

	return toIssue(*data.IssueCreate.Issue), nil
}

// Transitions lists the reachable states for an issue. Linear workflows
// permit moving to any team state other than the current one.
func (c *Client) Transitions(ctx context.Context, id string) ([]ticket.Transition, error) {
	var data struct {
		Issue *struct {
			ID    string     `json:"id"`
			State *namedNode `json:"state"`
			Team  *struct {
				States struct {
					Nodes []namedNode `json:"nodes"`
				} `json:"states"`
			} `json:"team"`
		} `json:"issue"`
	}
	if err := c.execute(ctx, queryIssueStates, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Issue == nil {
		return nil, fmt.Errorf("%w: issue %s", ticket.ErrNotFound, id)
	}

	var current string
	if data.Issue.State != nil {
		current = data.Issue.State.ID
	}

	var transitions []ticket.Transition
	if data.Issue.Team != nil {
		for _, state := range data.Issue.Team.States.Nodes {
			if state.ID == current {
				continue
			}
			transitions = append(transitions, ticket.Transition{
				ID:       state.ID,
				ToStatus: state.Name,
			})
		}
	}
	return transitions, nil
}

// ApplyTransition moves the issue to the given workflow state.
func (c *Client) ApplyTransition(ctx context.Context, id, stateID string) error {
	variables := map[string]any{
		"id":    id,
		"input": map[string]any{"stateId": stateID},
	}
	var data struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := c.execute(ctx, mutationIssueUpdate, variables, &data); err != nil {
		return err
	}
	if !data.IssueUpdate.Success {
		return fmt.Errorf("%w: state update reported failure", ticket.ErrValidation)
	}
	return nil
}

// AddComment appends a markdown comment. The issue must be referenced
// by UUID, so identifiers resolve through a fetch first.
func (c *Client) AddComment(ctx context.Context, id string, doc richtext.WireDoc) error {
	issue, err := c.Issue(ctx, id)
	if err != nil {
		return err
	}

	variables := map[string]any{
		"input": map[string]any{
			"issueId": issue.ID,
			"body":    doc.Text,
		},
	}
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	if err := c.execute(ctx, mutationCommentCreate, variables, &data); err != nil {
		return err
	}
	if !data.CommentCreate.Success {
		return fmt.Errorf("%w: comment create reported failure", ticket.ErrValidation)
	}
	return nil
}

// ListMetadata enumerates backend metadata. Teams play the role of
// projects; cycles play the role of sprints.
func (c *Client) ListMetadata(ctx context.Context, kind ticket.MetadataKind) ([]ticket.MetadataItem, error) {
	switch kind {
	case ticket.MetadataProjects:
		var data struct {
			Teams struct {
				Nodes []teamNode `json:"nodes"`
			} `json:"teams"`
		}
		if err := c.execute(ctx, queryTeams, nil, &data); err != nil {
			return nil, err
		}
		items := make([]ticket.MetadataItem, 0, len(data.Teams.Nodes))
		for _, t := range data.Teams.Nodes {
			items = append(items, ticket.MetadataItem{ID: t.ID, Key: t.Key, Name: t.Name})
		}
		return items, nil

	case ticket.MetadataStatuses:
		var data struct {
			WorkflowStates struct {
				Nodes []namedNode `json:"nodes"`
			} `json:"workflowStates"`
		}
		if err := c.execute(ctx, queryWorkflowStates, nil, &data); err != nil {
			return nil, err
		}
		items := make([]ticket.MetadataItem, 0, len(data.WorkflowStates.Nodes))
		for _, s := range data.WorkflowStates.Nodes {
			items = append(items, ticket.MetadataItem{ID: s.ID, Name: s.Name})
		}
		return items, nil

	case ticket.MetadataPriorities:
		// Priorities are a fixed enum, not queryable metadata.
		items := make([]ticket.MetadataItem, 0, len(priorityLabels))
		for i, label := range priorityLabels {
			items = append(items, ticket.MetadataItem{ID: fmt.Sprint(i), Name: label})
		}
		return items, nil

	case ticket.MetadataSprints:
		var data struct {
			Cycles struct {
				Nodes []namedNode `json:"nodes"`
			} `json:"cycles"`
		}
		if err := c.execute(ctx, queryCycles, nil, &data); err != nil {
			return nil, err
		}
		items := make([]ticket.MetadataItem, 0, len(data.Cycles.Nodes))
		for _, cy := range data.Cycles.Nodes {
			items = append(items, ticket.MetadataItem{ID: cy.ID, Name: cy.Name})
		}
		return items, nil

	default:
		return nil, fmt.Errorf("%w: metadata kind %q", ticket.ErrUnsupported, kind)
	}
}

// priorityLabels indexes Linear's fixed priority enum.
var priorityLabels = []string{"No priority", "Urgent", "High", "Medium", "Low"}

// teamByKey resolves a team key (the project-key analog) to its UUID.
func (c *Client) teamByKey(ctx context.Context, key string) (*teamNode, error) {
	var data struct {
		Teams struct {
			Nodes []teamNode `json:"nodes"`
		} `json:"teams"`
	}
	if err := c.execute(ctx, queryTeamByKey, map[string]any{"key": key}, &data); err != nil {
		return nil, err
	}
	if len(data.Teams.Nodes) == 0 {
		return nil, fmt.Errorf("%w: team %s", ticket.ErrNotFound, key)
	}
	return &data.Teams.Nodes[0], nil
}

// toIssue normalizes a GraphQL node into the shared backend shape.
func toIssue(node issueNode) *backend.Issue {
	issue := &backend.Issue{
		ID:    node.ID,
		Key:   node.Identifier,
		Title: node.Title,
		Description: richtext.WireDoc{
			Format: richtext.FormatMarkdown,
			Text:   node.Description,
		},
		Priority:  node.PriorityLabel,
		URL:       node.URL,
		CreatedAt: node.CreatedAt,
		UpdatedAt: node.UpdatedAt,
	}
	if node.State != nil {
		issue.Status = node.State.Name
	}
	if node.Assignee != nil {
		if node.Assignee.DisplayName != "" {
			issue.Assignee = node.Assignee.DisplayName
		} else {
			issue.Assignee = node.Assignee.Name
		}
	}
	if node.Team != nil {
		issue.ProjectKey = node.Team.Key
	}

	custom := make(map[string]any)
	if node.Estimate != nil {
		custom[fieldEstimate] = *node.Estimate
	}
	if node.Parent != nil {
		custom[fieldParent] = node.Parent.Identifier
	}
	if node.Cycle != nil {
		custom[fieldCycle] = node.Cycle.Name
	}
	if node.Team != nil {
		custom[fieldTeam] = node.Team.Key
	}
	if node.DueDate != "" {
		custom[fieldDueDate] = node.DueDate
	}
	if len(custom) > 0 {
		issue.CustomFields = custom
	}
	return issue
}
