// Package fieldmap discovers, per project, the backend-specific
// identifiers for the closed set of semantic fields. Matching uses
// normalized display names against a table of known aliases; results
// are cached per project key and invalidated only explicitly. Backend
// schema changes are not auto-detected.
package fieldmap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"github.com/trackwell/ticketbridge/internal/ticket"
)

// FieldRef identifies one backend field.
type FieldRef struct {
	ID   string // Backend field identifier (e.g. customfield_10016)
	Name string // Display name as declared by the backend
}

// Mapping is the per-project resolution result. Warnings record
// ambiguous matches; fields with no match are simply absent.
type Mapping struct {
	ProjectKey string
	Fields     map[ticket.SemanticField]FieldRef
	Warnings   []ticket.Warning
}

// Lookup returns the backend ref for a semantic field, if mapped.
func (m *Mapping) Lookup(field ticket.SemanticField) (FieldRef, bool) {
	ref, ok := m.Fields[field]
	return ref, ok
}

// BackendField is one field declared by backend metadata. Order matters:
// ambiguous matches resolve to the first declared candidate.
type BackendField struct {
	ID   string
	Name string
}

// Source fetches a project's declared fields in declaration order.
// Implemented by the backend clients over their schema/metadata
// endpoints.
type Source interface {
	ProjectFields(ctx context.Context, projectKey string) ([]BackendField, error)
}

// fieldAliases maps each semantic field to its known display-name
// aliases, compared after normalization.
var fieldAliases = map[ticket.SemanticField][]string{
	ticket.FieldStoryPoints: {"story points", "story point estimate", "points", "estimate"},
	ticket.FieldEpicLink:    {"epic link", "epic", "parent epic", "parent"},
	ticket.FieldSprint:      {"sprint", "iteration", "cycle"},
	ticket.FieldTeam:        {"team"},
	ticket.FieldDueDate:     {"due date", "duedate", "target date"},
}

// wellKnownFields is the fallback heuristic list used when the backend
// offers no schema introspection: default field identifiers observed
// across stock server configurations.
var wellKnownFields = []BackendField{
	{ID: "customfield_10002", Name: "Story Points"},
	{ID: "customfield_10008", Name: "Epic Link"},
	{ID: "customfield_10007", Name: "Sprint"},
	{ID: "customfield_10001", Name: "Team"},
	{ID: "duedate", Name: "Due Date"},
}

// Resolver resolves and caches per-project mappings. Resolution per
// project key is single-flighted; distinct keys resolve independently.
type Resolver struct {
	source        Source
	introspection bool
	logger        log.Logger

	mu    sync.RWMutex
	cache map[string]*Mapping
	group singleflight.Group
}

// NewResolver creates a resolver. introspection selects between the
// metadata endpoint and the well-known-field fallback.
func NewResolver(source Source, introspection bool, logger log.Logger) *Resolver {
	return &Resolver{
		source:        source,
		introspection: introspection,
		logger:        logger,
		cache:         make(map[string]*Mapping),
	}
}

// Resolve returns the project's mapping, computing it on first use. A
// cached mapping is returned as-is with zero network requests.
func (r *Resolver) Resolve(ctx context.Context, projectKey string) (*Mapping, error) {
	r.mu.RLock()
	cached, ok := r.cache[projectKey]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err, _ := r.group.Do(projectKey, func() (any, error) {
		// Double-check: a concurrent flight may have populated the
		// cache between the read above and this callback.
		r.mu.RLock()
		cached, ok := r.cache[projectKey]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fields, err := r.projectFields(ctx, projectKey)
		if err != nil {
			return nil, fmt.Errorf("resolve fields for %s: %w", projectKey, err)
		}

		mapping := BuildMapping(projectKey, fields)
		for _, w := range mapping.Warnings {
			r.logger.Warn().
				Str("project", projectKey).
				Str("field", string(w.Field)).
				Msg(w.Detail)
		}

		r.mu.Lock()
		r.cache[projectKey] = mapping
		r.mu.Unlock()
		return mapping, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Mapping), nil
}

// Invalidate drops the cached mapping for a project. The next Resolve
// re-fetches metadata.
func (r *Resolver) Invalidate(projectKey string) {
	r.mu.Lock()
	delete(r.cache, projectKey)
	r.mu.Unlock()
}

func (r *Resolver) projectFields(ctx context.Context, projectKey string) ([]BackendField, error) {
	if r.introspection {
		return r.source.ProjectFields(ctx, projectKey)
	}
	return wellKnownFields, nil
}

// BuildMapping runs the matching algorithm over declared fields:
// normalize each display name and compare against the alias table.
// Exactly one candidate maps directly; zero candidates leave the
// semantic field unmapped; multiple candidates map to the first in
// declaration order with an ambiguity warning. Given identical input
// the result is identical: no randomness, no map iteration over
// candidates.
func BuildMapping(projectKey string, fields []BackendField) *Mapping {
	mapping := &Mapping{
		ProjectKey: projectKey,
		Fields:     make(map[ticket.SemanticField]FieldRef),
	}

	for _, semantic := range ticket.SemanticFields() {
		aliases := fieldAliases[semantic]

		var candidates []BackendField
		for _, field := range fields {
			if matchesAlias(field.Name, aliases) {
				candidates = append(candidates, field)
			}
		}

		switch len(candidates) {
		case 0:
			// Unmapped: writes to this field will be skipped with a
			// warning at write time.
		case 1:
			mapping.Fields[semantic] = FieldRef{ID: candidates[0].ID, Name: candidates[0].Name}
		default:
			first := candidates[0]
			mapping.Fields[semantic] = FieldRef{ID: first.ID, Name: first.Name}
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.Name
			}
			mapping.Warnings = append(mapping.Warnings, ticket.Warning{
				Kind:  ticket.WarnFieldAmbiguous,
				Field: semantic,
				Detail: fmt.Sprintf("%d candidates (%s), picked first declared %q",
					len(candidates), strings.Join(names, ", "), first.Name),
			})
		}
	}

	return mapping
}

// matchesAlias compares the normalized display name against each alias.
// A trailing qualifier after the alias ("Estimate (legacy)") still
// matches: administrators decorate cloned fields that way.
func matchesAlias(name string, aliases []string) bool {
	normalized := normalizeName(name)
	for _, alias := range aliases {
		a := normalizeName(alias)
		if normalized == a || strings.HasPrefix(normalized, a+" ") {
			return true
		}
	}
	return false
}

// normalizeName lowercases and strips punctuation so "Estimate
// (legacy)" and "estimate legacy" compare equal on their word content.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
