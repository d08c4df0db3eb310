package linear

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwell/ticketbridge/internal/auth"
	"github.com/trackwell/ticketbridge/internal/backend"
	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// graphqlHandler routes scripted responses by operation content and
// records each request for assertions.
type graphqlHandler struct {
	t        *testing.T
	respond  func(query string, variables map[string]any) any
	requests []graphqlRequest
	auths    []string
}

func (h *graphqlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	require.Equal(h.t, http.MethodPost, r.Method)
	require.Equal(h.t, "/graphql", r.URL.Path)
	h.auths = append(h.auths, r.Header.Get("Authorization"))

	var req graphqlRequest
	require.NoError(h.t, json.NewDecoder(r.Body).Decode(&req))
	h.requests = append(h.requests, req)

	_ = json.NewEncoder(w).Encode(h.respond(req.Query, req.Variables))
}

func newTestClient(t *testing.T, handler *graphqlHandler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	httpClient := transport.New(server.URL, transport.WithRetryConfig(transport.RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}))
	return NewClient(httpClient, log.Logger{Level: log.PanicLevel})
}

func dataResponse(data any) map[string]any {
	return map[string]any{"data": data}
}

func issuePayload(identifier string) map[string]any {
	return map[string]any{
		"id":            "uuid-1",
		"identifier":    identifier,
		"title":         "Render glitch",
		"description":   "seen on **retina** displays",
		"url":           "https://linear.app/acme/issue/" + identifier,
		"createdAt":     "2024-03-01T10:00:00.000Z",
		"updatedAt":     "2024-03-02T11:00:00.000Z",
		"priorityLabel": "High",
		"estimate":      3.0,
		"dueDate":       "2024-04-01",
		"state":         map[string]any{"id": "s2", "name": "In Progress"},
		"assignee":      map[string]any{"id": "u1", "name": "alice", "displayName": "Alice"},
		"team":          map[string]any{"id": "t1", "key": "ENG", "name": "Engineering"},
		"cycle":         map[string]any{"id": "c7", "name": "Cycle 7"},
		"parent":        map[string]any{"id": "uuid-0", "identifier": "ENG-10"},
	}
}

func TestProbeAndAuthHeader(t *testing.T) {
	handler := &graphqlHandler{t: t, respond: func(query string, _ map[string]any) any {
		require.Contains(t, query, "viewer")
		return dataResponse(map[string]any{"viewer": map[string]any{
			"id": "u1", "name": "alice", "displayName": "Alice", "email": "alice@example.com",
		}})
	}}
	client := newTestClient(t, handler)

	user, err := client.Probe(context.Background(), capability.AuthToken, auth.Credentials{Token: "lin_api_123"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, "alice@example.com", user.Email)

	// Personal API keys go in the Authorization header raw, without a
	// Bearer scheme.
	require.Len(t, handler.auths, 1)
	assert.Equal(t, "lin_api_123", handler.auths[0])
}

func TestProbeRejectsBasicMethod(t *testing.T) {
	client := newTestClient(t, &graphqlHandler{t: t, respond: func(string, map[string]any) any {
		t.Fatal("no request expected")
		return nil
	}})

	_, err := client.Probe(context.Background(), capability.AuthBasic, auth.Credentials{Username: "a", Secret: "b"})
	assert.True(t, errors.Is(err, ticket.ErrUnsupported))
}

func TestIssueMapsNodeToSharedShape(t *testing.T) {
	handler := &graphqlHandler{t: t, respond: func(_ string, variables map[string]any) any {
		assert.Equal(t, "ENG-42", variables["id"])
		return dataResponse(map[string]any{"issue": issuePayload("ENG-42")})
	}}
	client := newTestClient(t, handler)

	issue, err := client.Issue(context.Background(), "ENG-42")
	require.NoError(t, err)

	assert.Equal(t, "uuid-1", issue.ID)
	assert.Equal(t, "ENG-42", issue.Key)
	assert.Equal(t, "Render glitch", issue.Title)
	assert.Equal(t, "In Progress", issue.Status)
	assert.Equal(t, "Alice", issue.Assignee)
	assert.Equal(t, "High", issue.Priority)
	assert.Equal(t, "ENG", issue.ProjectKey)

	assert.Equal(t, richtext.FormatMarkdown, issue.Description.Format)
	doc, err := richtext.FromWire(issue.Description)
	require.NoError(t, err)
	assert.Equal(t, "seen on retina displays", doc.RawText())

	assert.Equal(t, 3.0, issue.CustomFields[fieldEstimate])
	assert.Equal(t, "ENG-10", issue.CustomFields[fieldParent])
	assert.Equal(t, "Cycle 7", issue.CustomFields[fieldCycle])
	assert.Equal(t, "2024-04-01", issue.CustomFields[fieldDueDate])
}

func TestIssueNotFound(t *testing.T) {
	handler := &graphqlHandler{t: t, respond: func(string, map[string]any) any {
		return dataResponse(map[string]any{"issue": nil})
	}}
	client := newTestClient(t, handler)

	_, err := client.Issue(context.Background(), "ENG-404")
	assert.True(t, errors.Is(err, ticket.ErrNotFound))
}

func TestGraphQLErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"authentication", "AUTHENTICATION_ERROR", ticket.ErrPermission},
		{"forbidden", "FORBIDDEN", ticket.ErrPermission},
		{"rate limit", "RATELIMITED", ticket.ErrTransient},
		{"missing entity", "ENTITY_NOT_FOUND", ticket.ErrNotFound},
		{"anything else", "INVALID_INPUT", ticket.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &graphqlHandler{t: t, respond: func(string, map[string]any) any {
				return map[string]any{"errors": []map[string]any{{
					"message":    "backend said no",
					"extensions": map[string]any{"code": tt.code},
				}}}
			}}
			client := newTestClient(t, handler)

			_, err := client.Issue(context.Background(), "ENG-1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Contains(t, err.Error(), "backend said no")
		})
	}
}

func TestCreateResolvesTeamAndNativeSlots(t *testing.T) {
	handler := &graphqlHandler{t: t}
	handler.respond = func(query string, variables map[string]any) any {
		switch {
		case strings.Contains(query, "teams(filter"):
			return dataResponse(map[string]any{"teams": map[string]any{
				"nodes": []any{map[string]any{"id": "t1", "key": "ENG", "name": "Engineering"}},
			}})
		case strings.Contains(query, "issueCreate"):
			input, ok := variables["input"].(map[string]any)
			require.True(handler.t, ok)
			assert.Equal(handler.t, "t1", input["teamId"])
			assert.Equal(handler.t, "New bug", input["title"])
			assert.Equal(handler.t, 5.0, input["estimate"])
			assert.Equal(handler.t, "c7", input["cycleId"])
			assert.Equal(handler.t, "2024-05-01", input["dueDate"])
			return dataResponse(map[string]any{"issueCreate": map[string]any{
				"success": true,
				"issue":   issuePayload("ENG-43"),
			}})
		default:
			handler.t.Fatalf("unexpected query: %s", query)
			return nil
		}
	}
	client := newTestClient(t, handler)

	wire, _ := richtext.ToWire(richtext.Text("body"), richtext.FormatMarkdown)
	issue, err := client.Create(context.Background(), backend.CreateRequest{
		ProjectKey:  "ENG",
		Title:       "New bug",
		Description: wire,
		CustomFields: map[string]any{
			fieldEstimate: 5.0,
			fieldCycle:    "c7",
			fieldDueDate:  "2024-05-01",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ENG-43", issue.Key)
}

func TestCreateResolvesParentIdentifierToUUID(t *testing.T) {
	handler := &graphqlHandler{t: t}
	handler.respond = func(query string, variables map[string]any) any {
		switch {
		case strings.Contains(query, "teams(filter"):
			return dataResponse(map[string]any{"teams": map[string]any{
				"nodes": []any{map[string]any{"id": "t1", "key": "ENG", "name": "Engineering"}},
			}})
		case strings.Contains(query, "query Issue("):
			// The parent lookup: an identifier goes in, the UUID comes
			// back.
			assert.Equal(handler.t, "ENG-10", variables["id"])
			payload := issuePayload("ENG-10")
			payload["id"] = "uuid-parent"
			return dataResponse(map[string]any{"issue": payload})
		case strings.Contains(query, "issueCreate"):
			input, ok := variables["input"].(map[string]any)
			require.True(handler.t, ok)
			assert.Equal(handler.t, "uuid-parent", input["parentId"])
			return dataResponse(map[string]any{"issueCreate": map[string]any{
				"success": true,
				"issue":   issuePayload("ENG-43"),
			}})
		default:
			handler.t.Fatalf("unexpected query: %s", query)
			return nil
		}
	}
	client := newTestClient(t, handler)

	_, err := client.Create(context.Background(), backend.CreateRequest{
		ProjectKey:   "ENG",
		Title:        "Child task",
		CustomFields: map[string]any{fieldParent: "ENG-10"},
	})
	require.NoError(t, err)
}

func TestCreateTeamField(t *testing.T) {
	t.Run("matching team is redundant", func(t *testing.T) {
		handler := &graphqlHandler{t: t}
		handler.respond = func(query string, variables map[string]any) any {
			switch {
			case strings.Contains(query, "teams(filter"):
				return dataResponse(map[string]any{"teams": map[string]any{
					"nodes": []any{map[string]any{"id": "t1", "key": "ENG", "name": "Engineering"}},
				}})
			case strings.Contains(query, "issueCreate"):
				input, ok := variables["input"].(map[string]any)
				require.True(handler.t, ok)
				assert.Equal(handler.t, "t1", input["teamId"])
				_, sent := input["team"]
				assert.False(handler.t, sent, "team travels as teamId only")
				return dataResponse(map[string]any{"issueCreate": map[string]any{
					"success": true,
					"issue":   issuePayload("ENG-44"),
				}})
			default:
				handler.t.Fatalf("unexpected query: %s", query)
				return nil
			}
		}
		client := newTestClient(t, handler)

		_, err := client.Create(context.Background(), backend.CreateRequest{
			ProjectKey:   "ENG",
			Title:        "Same team",
			CustomFields: map[string]any{fieldTeam: "eng"},
		})
		require.NoError(t, err)
	})

	t.Run("conflicting team fails before the mutation", func(t *testing.T) {
		handler := &graphqlHandler{t: t}
		handler.respond = func(query string, _ map[string]any) any {
			switch {
			case strings.Contains(query, "teams(filter"):
				return dataResponse(map[string]any{"teams": map[string]any{
					"nodes": []any{map[string]any{"id": "t1", "key": "ENG", "name": "Engineering"}},
				}})
			default:
				handler.t.Fatalf("unexpected query: %s", query)
				return nil
			}
		}
		client := newTestClient(t, handler)

		_, err := client.Create(context.Background(), backend.CreateRequest{
			ProjectKey:   "ENG",
			Title:        "Wrong team",
			CustomFields: map[string]any{fieldTeam: "OPS"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ticket.ErrValidation))
		assert.Contains(t, err.Error(), "OPS")

		for _, req := range handler.requests {
			assert.NotContains(t, req.Query, "issueCreate", "no create issued on conflict")
		}
	})
}

func TestTransitionsExcludeCurrentState(t *testing.T) {
	handler := &graphqlHandler{t: t, respond: func(query string, _ map[string]any) any {
		require.Contains(t, query, "states")
		return dataResponse(map[string]any{"issue": map[string]any{
			"id":    "uuid-1",
			"state": map[string]any{"id": "s2", "name": "In Progress"},
			"team": map[string]any{
				"states": map[string]any{"nodes": []any{
					map[string]any{"id": "s1", "name": "Todo"},
					map[string]any{"id": "s2", "name": "In Progress"},
					map[string]any{"id": "s3", "name": "Done"},
				}},
			},
		}})
	}}
	client := newTestClient(t, handler)

	transitions, err := client.Transitions(context.Background(), "ENG-42")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, ticket.Transition{ID: "s1", ToStatus: "Todo"}, transitions[0])
	assert.Equal(t, ticket.Transition{ID: "s3", ToStatus: "Done"}, transitions[1])
}

func TestAddCommentResolvesIdentifierToUUID(t *testing.T) {
	handler := &graphqlHandler{t: t}
	handler.respond = func(query string, variables map[string]any) any {
		switch {
		case strings.Contains(query, "commentCreate"):
			input, ok := variables["input"].(map[string]any)
			require.True(handler.t, ok)
			assert.Equal(handler.t, "uuid-1", input["issueId"])
			assert.Equal(handler.t, "looks fixed\n", input["body"])
			return dataResponse(map[string]any{"commentCreate": map[string]any{"success": true}})
		default:
			return dataResponse(map[string]any{"issue": issuePayload("ENG-42")})
		}
	}
	client := newTestClient(t, handler)

	wire, _ := richtext.ToWire(richtext.Text("looks fixed"), richtext.FormatMarkdown)
	err := client.AddComment(context.Background(), "ENG-42", wire)
	require.NoError(t, err)
}

func TestListMetadata(t *testing.T) {
	t.Run("projects are teams", func(t *testing.T) {
		handler := &graphqlHandler{t: t, respond: func(string, map[string]any) any {
			return dataResponse(map[string]any{"teams": map[string]any{
				"nodes": []any{map[string]any{"id": "t1", "key": "ENG", "name": "Engineering"}},
			}})
		}}
		client := newTestClient(t, handler)

		items, err := client.ListMetadata(context.Background(), ticket.MetadataProjects)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "ENG", items[0].Key)
	})

	t.Run("priorities are a fixed enum", func(t *testing.T) {
		client := newTestClient(t, &graphqlHandler{t: t, respond: func(string, map[string]any) any {
			t.Fatal("no request expected")
			return nil
		}})

		items, err := client.ListMetadata(context.Background(), ticket.MetadataPriorities)
		require.NoError(t, err)
		require.Len(t, items, 5)
		assert.Equal(t, "Urgent", items[1].Name)
	})

	t.Run("sprints are cycles", func(t *testing.T) {
		handler := &graphqlHandler{t: t, respond: func(string, map[string]any) any {
			return dataResponse(map[string]any{"cycles": map[string]any{
				"nodes": []any{map[string]any{"id": "c7", "name": "Cycle 7"}},
			}})
		}}
		client := newTestClient(t, handler)

		items, err := client.ListMetadata(context.Background(), ticket.MetadataSprints)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Cycle 7", items[0].Name)
	})
}
