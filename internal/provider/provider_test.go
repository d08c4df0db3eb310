package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwell/ticketbridge/internal/auth"
	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// fakeJira is a scripted Jira Server 9.4 instance. It records call
// counts per concern so tests can assert on traffic, not just results.
type fakeJira struct {
	mu              sync.Mutex
	serverInfoCalls int
	myselfCalls     int
	fieldCalls      int
	transitionPosts []string
	createdFields   map[string]any

	failServerInfo atomic.Bool
}

func (f *fakeJira) count(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeJira) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/rest/api/2/serverInfo":
		f.count(func() { f.serverInfoCalls++ })
		if f.failServerInfo.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":        "9.4.0",
			"versionNumbers": []int{9, 4, 0},
			"deploymentType": "Server",
		})

	case r.URL.Path == "/rest/api/2/myself":
		f.count(func() { f.myselfCalls++ })
		if r.Header.Get("Authorization") != "Bearer pat" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "alice", "displayName": "Alice"})

	case r.URL.Path == "/rest/api/2/field":
		f.count(func() { f.fieldCalls++ })
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "customfield_10016", "name": "Story Points", "custom": true},
			{"id": "duedate", "name": "Due Date", "custom": false},
		})

	case r.URL.Path == "/rest/api/2/issue/PROJ-1" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "10001", "key": "PROJ-1",
			"fields": map[string]any{
				"summary":           "Fix the widget",
				"description":       "first paragraph\n\nsecond paragraph",
				"status":            map[string]any{"id": "1", "name": "To Do"},
				"project":           map[string]any{"id": "1", "key": "PROJ", "name": "Project"},
				"customfield_10016": 5.0,
			},
		})

	case r.URL.Path == "/rest/api/2/issue/PROJ-1/transitions" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transitions": []any{
				map[string]any{"id": "21", "name": "Start", "to": map[string]any{"name": "In Progress"}},
				map[string]any{"id": "31", "name": "Finish", "to": map[string]any{"name": "Done"}},
			},
		})

	case r.URL.Path == "/rest/api/2/issue/PROJ-1/transitions" && r.Method == http.MethodPost:
		var body struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.count(func() { f.transitionPosts = append(f.transitionPosts, body.Transition.ID) })
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/rest/api/2/issue" && r.Method == http.MethodPost:
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.count(func() { f.createdFields = body.Fields })
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "10009", "key": "PROJ-9"})

	case r.URL.Path == "/rest/api/2/issue/PROJ-9" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "10009", "key": "PROJ-9",
			"fields": map[string]any{
				"summary": "Created thing",
				"project": map[string]any{"key": "PROJ"},
			},
		})

	default:
		http.NotFound(w, r)
	}
}

func newTestProvider(t *testing.T, fake *fakeJira) (*Provider, *[]ticket.Warning) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	var mu sync.Mutex
	warnings := &[]ticket.Warning{}

	p := New(Config{
		Connection:  "work",
		Backend:     capability.BackendJira,
		BaseURL:     server.URL,
		Credentials: auth.Credentials{Token: "pat"},
		Logger:      log.Logger{Level: log.PanicLevel},
		OnWarning: func(w ticket.Warning) {
			mu.Lock()
			defer mu.Unlock()
			*warnings = append(*warnings, w)
		},
		TransportOptions: []transport.Option{
			transport.WithRetryConfig(transport.RetryConfig{
				MaxAttempts: 1,
				BaseDelay:   time.Millisecond,
				MaxDelay:    time.Millisecond,
			}),
		},
	})
	return p, warnings
}

func TestLazyConnectAndGet(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)

	assert.Zero(t, fake.serverInfoCalls, "construction is traffic-free")

	got, err := p.GetTicket(context.Background(), "PROJ-1")
	require.NoError(t, err)

	assert.Equal(t, "PROJ-1", got.Key)
	assert.Equal(t, "To Do", got.Status)
	require.NotNil(t, got.Description)
	assert.Len(t, got.Description.Blocks, 2, "plain text splits on blank lines")
	assert.Equal(t, 5.0, got.Fields[ticket.FieldStoryPoints], "custom value mapped back to semantic field")

	profile, err := p.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, capability.AuthToken, profile.Capabilities.AuthMethods[0])
	assert.Equal(t, capability.AuthToken, profile.NegotiatedAuth)

	assert.Equal(t, 1, fake.serverInfoCalls)
	assert.Equal(t, 1, fake.myselfCalls, "one probe, identity reused for whoami")
}

func TestConnectIsSingleFlighted(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetTicket(context.Background(), "PROJ-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.serverInfoCalls, "detection runs once for concurrent first use")
	assert.Equal(t, 1, fake.myselfCalls)
}

func TestFailedConnectLeavesNoPartialState(t *testing.T) {
	fake := &fakeJira{}
	fake.failServerInfo.Store(true)
	p, _ := newTestProvider(t, fake)

	_, err := p.GetTicket(context.Background(), "PROJ-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ticket.ErrDetection))

	// The backend recovers; the next call re-detects from scratch.
	fake.failServerInfo.Store(false)
	got, err := p.GetTicket(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", got.Key)
	assert.Equal(t, 2, fake.serverInfoCalls)
}

func TestUpdateStatusValidatesBeforeWriting(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)

	t.Run("invalid target never writes", func(t *testing.T) {
		err := p.UpdateStatus(context.Background(), "PROJ-1", "Cancelled")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ticket.ErrInvalidTransition))

		var invalid *ticket.InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "To Do", invalid.FromStatus)
		assert.Equal(t, "Cancelled", invalid.TargetStatus)
		assert.Equal(t, []string{"In Progress", "Done"}, invalid.Allowed)

		assert.Empty(t, fake.transitionPosts, "no write issued for rejected transition")
	})

	t.Run("valid target applies by transition id", func(t *testing.T) {
		require.NoError(t, p.UpdateStatus(context.Background(), "PROJ-1", "done"))
		assert.Equal(t, []string{"31"}, fake.transitionPosts, "status match is case-insensitive")
	})
}

func TestCreateTranslatesFieldsAndWarns(t *testing.T) {
	fake := &fakeJira{}
	p, warnings := newTestProvider(t, fake)

	doc := &richtext.Doc{Blocks: []richtext.Block{
		{Type: richtext.BlockHeading, Level: 1, Inlines: []richtext.Inline{{Text: "Context"}}},
		richtext.Paragraph("details"),
	}}

	created, err := p.Create(context.Background(), ticket.CreateInput{
		ProjectKey:  "PROJ",
		Title:       "Created thing",
		Description: doc,
		Fields: map[ticket.SemanticField]any{
			ticket.FieldStoryPoints: 8.0,
			ticket.FieldSprint:      "Sprint 12", // no sprint field declared
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "PROJ-9", created.Key)

	assert.Equal(t, 8.0, fake.createdFields["customfield_10016"], "mapped semantic value sent under backend ID")
	_, sprintSent := fake.createdFields["sprint"]
	assert.False(t, sprintSent)

	description, ok := fake.createdFields["description"].(string)
	require.True(t, ok)
	assert.Contains(t, description, "Context")
	assert.Contains(t, description, "details")

	var kinds []ticket.WarningKind
	var fields []ticket.SemanticField
	for _, w := range *warnings {
		kinds = append(kinds, w.Kind)
		if w.Field != "" {
			fields = append(fields, w.Field)
		}
	}
	assert.Contains(t, kinds, ticket.WarnFieldUnmapped)
	assert.Contains(t, fields, ticket.FieldSprint)
	assert.Contains(t, kinds, ticket.WarnTranslationDegraded, "heading degrades on a plain-text backend")
}

func TestFieldMappingResolvedOncePerProject(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)

	for i := 0; i < 3; i++ {
		_, err := p.GetTicket(context.Background(), "PROJ-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.fieldCalls)

	p.InvalidateFields("PROJ")
	_, err := p.GetTicket(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fieldCalls)
}

func TestCurrentUserNeedsNoExtraCall(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)

	user, err := p.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, 1, fake.myselfCalls, "identity comes from the negotiation probe")
}

func TestNegotiationFailureListsAttempts(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)
	p.cfg.Credentials = auth.Credentials{Token: "wrong"}

	_, err := p.GetTicket(context.Background(), "PROJ-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ticket.ErrNegotiation))

	var negotiationErr *ticket.NegotiationError
	require.ErrorAs(t, err, &negotiationErr)
	require.Len(t, negotiationErr.Attempts, 2)
	assert.Equal(t, "rejected", negotiationErr.Attempts[0].Outcome)
	assert.Equal(t, "no-credential", negotiationErr.Attempts[1].Outcome)
}

func TestReconnectForcesRedetection(t *testing.T) {
	fake := &fakeJira{}
	p, _ := newTestProvider(t, fake)

	_, err := p.GetTicket(context.Background(), "PROJ-1")
	require.NoError(t, err)

	p.Reconnect()

	_, err = p.GetTicket(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.serverInfoCalls)
}

func TestSearchStripsToTickets(t *testing.T) {
	fake := &fakeJira{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/rest/api/2/search") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issues": []any{map[string]any{
					"id": "1", "key": "PROJ-1",
					"fields": map[string]any{
						"summary": "hit",
						"project": map[string]any{"key": "PROJ"},
					},
				}},
			})
			return
		}
		fake.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	p := New(Config{
		Connection:  "work",
		Backend:     capability.BackendJira,
		BaseURL:     server.URL,
		Credentials: auth.Credentials{Token: "pat"},
		Logger:      log.Logger{Level: log.PanicLevel},
	})

	tickets, err := p.Search(context.Background(), "widget", ticket.SearchOptions{ProjectKey: "PROJ"})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "hit", tickets[0].Title)
}
