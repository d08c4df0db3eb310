package jira

import (
	"encoding/json"
	"strings"
)

// jiraTimeLayout is the timestamp format Jira uses across both API
// versions.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// namedValue is the {id, name} shape Jira uses for statuses, priorities
// and issue types.
type namedValue struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// userValue covers both identity schemes: accountId on Cloud, name on
// Server/DC.
type userValue struct {
	AccountID    string `json:"accountId,omitempty"`
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// display picks the best human-facing label for the user.
func (u *userValue) display() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Name != "" {
		return u.Name
	}
	return u.AccountID
}

// projectValue is the project reference embedded in issue fields.
type projectValue struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

// issueFields is the fields object of a Jira issue. Description stays
// raw because its type depends on the API version: a string on v2, an
// ADF document on v3. Custom carries every customfield_* value plus
// duedate, keyed by field ID.
type issueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description,omitempty"`
	Status      *namedValue     `json:"status,omitempty"`
	Priority    *namedValue     `json:"priority,omitempty"`
	Assignee    *userValue      `json:"assignee,omitempty"`
	Project     *projectValue   `json:"project,omitempty"`
	Created     string          `json:"created,omitempty"`
	Updated     string          `json:"updated,omitempty"`

	Custom map[string]any `json:"-"`
}

// UnmarshalJSON decodes the declared fields, then sweeps the raw object
// for custom-field entries that have no static struct slot.
func (f *issueFields) UnmarshalJSON(data []byte) error {
	type plain issueFields
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = issueFields(p)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key, raw := range all {
		if !strings.HasPrefix(key, "customfield_") && key != "duedate" {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		if value == nil {
			continue
		}
		if f.Custom == nil {
			f.Custom = make(map[string]any)
		}
		f.Custom[key] = value
	}
	return nil
}

// issueResponse is one issue as returned by the issue and search
// endpoints.
type issueResponse struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

// searchResponse is the JQL search envelope.
type searchResponse struct {
	StartAt    int             `json:"startAt"`
	MaxResults int             `json:"maxResults"`
	Total      int             `json:"total"`
	Issues     []issueResponse `json:"issues"`
}

// transitionsResponse lists the workflow transitions available from an
// issue's current status.
type transitionsResponse struct {
	Transitions []struct {
		ID   string     `json:"id"`
		Name string     `json:"name"`
		To   namedValue `json:"to"`
	} `json:"transitions"`
}

// myselfResponse is the authenticated-identity endpoint payload.
type myselfResponse struct {
	AccountID    string `json:"accountId"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// fieldDeclaration is one entry of the instance field registry. The
// endpoint returns an array, so declaration order is preserved.
type fieldDeclaration struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// projectSearchResponse is the paged project listing used on v3; v2
// returns a bare array instead.
type projectSearchResponse struct {
	Values []projectValue `json:"values"`
}

// boardsResponse and sprintsResponse are the agile endpoint envelopes.
type boardsResponse struct {
	Values []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"values"`
}

type sprintsResponse struct {
	Values []struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"values"`
}

// errorResponse is Jira's error body shape, shared by both versions.
type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}
