package fieldmap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwell/ticketbridge/internal/ticket"
)

// countingSource serves a fixed declaration list and counts fetches.
type countingSource struct {
	fields []BackendField
	calls  atomic.Int32
}

func (s *countingSource) ProjectFields(_ context.Context, _ string) ([]BackendField, error) {
	s.calls.Add(1)
	return s.fields, nil
}

func quietResolver(source Source, introspection bool) *Resolver {
	return NewResolver(source, introspection, log.Logger{Level: log.PanicLevel})
}

func TestBuildMappingSingleCandidates(t *testing.T) {
	fields := []BackendField{
		{ID: "customfield_10016", Name: "Story Points"},
		{ID: "customfield_10014", Name: "Epic Link"},
		{ID: "customfield_10020", Name: "Sprint"},
		{ID: "duedate", Name: "Due Date"},
		{ID: "summary", Name: "Summary"},
	}

	mapping := BuildMapping("PROJ", fields)
	assert.Empty(t, mapping.Warnings)

	ref, ok := mapping.Lookup(ticket.FieldStoryPoints)
	require.True(t, ok)
	assert.Equal(t, "customfield_10016", ref.ID)

	ref, ok = mapping.Lookup(ticket.FieldEpicLink)
	require.True(t, ok)
	assert.Equal(t, "customfield_10014", ref.ID)

	ref, ok = mapping.Lookup(ticket.FieldDueDate)
	require.True(t, ok)
	assert.Equal(t, "duedate", ref.ID)

	_, ok = mapping.Lookup(ticket.FieldTeam)
	assert.False(t, ok, "no team field declared")
}

// Two candidates for story points: the first in declaration order wins
// and the ambiguity is surfaced as a warning, deterministically.
func TestBuildMappingAmbiguityFirstDeclaredWins(t *testing.T) {
	fields := []BackendField{
		{ID: "customfield_10002", Name: "Story Points"},
		{ID: "customfield_10999", Name: "Story Point Estimate"},
	}

	mapping := BuildMapping("PROJ", fields)

	ref, ok := mapping.Lookup(ticket.FieldStoryPoints)
	require.True(t, ok)
	assert.Equal(t, "customfield_10002", ref.ID)

	require.Len(t, mapping.Warnings, 1)
	assert.Equal(t, ticket.WarnFieldAmbiguous, mapping.Warnings[0].Kind)
	assert.Equal(t, ticket.FieldStoryPoints, mapping.Warnings[0].Field)
	assert.Contains(t, mapping.Warnings[0].Detail, "Story Points")
}

func TestBuildMappingIsDeterministic(t *testing.T) {
	fields := []BackendField{
		{ID: "customfield_10002", Name: "Story Points"},
		{ID: "customfield_10999", Name: "Estimate"},
		{ID: "customfield_10014", Name: "Epic Link"},
		{ID: "customfield_10888", Name: "Epic"},
	}

	first := BuildMapping("PROJ", fields)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, BuildMapping("PROJ", fields))
	}
}

func TestAliasMatching(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		want     bool
	}{
		{"exact", "Story Points", true},
		{"case and spacing", "story   points", true},
		{"alias", "Estimate", true},
		{"decorated clone", "Estimate (legacy)", true},
		{"trailing punctuation", "Story Points?", true},
		{"unrelated", "Reporter", false},
		{"alias as prefix of a word", "Estimated Completion", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping := BuildMapping("PROJ", []BackendField{{ID: "f1", Name: tt.declared}})
			_, ok := mapping.Lookup(ticket.FieldStoryPoints)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestResolveCachesPerProject(t *testing.T) {
	source := &countingSource{fields: []BackendField{{ID: "customfield_1", Name: "Story Points"}}}
	resolver := quietResolver(source, true)

	first, err := resolver.Resolve(context.Background(), "PROJ")
	require.NoError(t, err)

	// Cache hit: same mapping, zero additional fetches.
	second, err := resolver.Resolve(context.Background(), "PROJ")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), source.calls.Load())

	// A different project resolves independently.
	_, err = resolver.Resolve(context.Background(), "OTHER")
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())

	// Invalidation forces a re-fetch.
	resolver.Invalidate("PROJ")
	_, err = resolver.Resolve(context.Background(), "PROJ")
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.calls.Load())
}

func TestResolveSingleFlight(t *testing.T) {
	source := &countingSource{fields: []BackendField{{ID: "customfield_1", Name: "Sprint"}}}
	resolver := quietResolver(source, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Resolve(context.Background(), "PROJ")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load(), "concurrent resolves share one fetch")
}

func TestResolveWithoutIntrospectionUsesWellKnownFields(t *testing.T) {
	source := &countingSource{}
	resolver := quietResolver(source, false)

	mapping, err := resolver.Resolve(context.Background(), "PROJ")
	require.NoError(t, err)

	assert.Zero(t, source.calls.Load(), "fallback never touches the source")

	ref, ok := mapping.Lookup(ticket.FieldStoryPoints)
	require.True(t, ok)
	assert.Equal(t, "customfield_10002", ref.ID)

	ref, ok = mapping.Lookup(ticket.FieldDueDate)
	require.True(t, ok)
	assert.Equal(t, "duedate", ref.ID)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "estimate legacy", normalizeName("Estimate (legacy)"))
	assert.Equal(t, "story points", normalizeName("  Story   POINTS "))
	assert.Equal(t, "duedate", normalizeName("DueDate"))
}
