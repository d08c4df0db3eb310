package capability

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/trackwell/ticketbridge/internal/richtext"
)

// tableRow documents the capability set introduced at one version
// point of a self-managed Jira release line. Rows are consulted with a
// round-down policy: a version between two documented points gets the
// set of the nearest lower point, so an unverified newer capability is
// never assumed.
type tableRow struct {
	MinVersion *semver.Version
	Set        Set
}

// serverTable is the documented capability history for Jira
// Server/Data Center, sorted ascending by MinVersion. Capability
// points of record:
//
//	7.0   - REST v2, field schema introspection, agile endpoints
//	8.0   - bulk issue operations
//	8.14  - personal access tokens (bearer auth)
//	9.0   - no new flags (field-compatible release)
//	9.12  - no new flags (LTS point, kept as a documented row)
var serverTable = []tableRow{
	{
		MinVersion: semver.MustParse("7.0.0"),
		Set: Set{
			AuthMethods:              []AuthMethod{AuthBasic},
			APIVersion:               2,
			DocFormat:                richtext.FormatPlainText,
			FieldSchemaIntrospection: true,
			AgileEndpoints:           true,
		},
	},
	{
		MinVersion: semver.MustParse("8.0.0"),
		Set: Set{
			AuthMethods:              []AuthMethod{AuthBasic},
			APIVersion:               2,
			DocFormat:                richtext.FormatPlainText,
			BulkOperations:           true,
			FieldSchemaIntrospection: true,
			AgileEndpoints:           true,
		},
	},
	{
		MinVersion: semver.MustParse("8.14.0"),
		Set: Set{
			AuthMethods:              []AuthMethod{AuthToken, AuthBasic},
			APIVersion:               2,
			DocFormat:                richtext.FormatPlainText,
			BulkOperations:           true,
			FieldSchemaIntrospection: true,
			AgileEndpoints:           true,
		},
	},
	{
		MinVersion: semver.MustParse("9.0.0"),
		Set: Set{
			AuthMethods:              []AuthMethod{AuthToken, AuthBasic},
			APIVersion:               2,
			DocFormat:                richtext.FormatPlainText,
			BulkOperations:           true,
			FieldSchemaIntrospection: true,
			AgileEndpoints:           true,
		},
	},
	{
		MinVersion: semver.MustParse("9.12.0"),
		Set: Set{
			AuthMethods:              []AuthMethod{AuthToken, AuthBasic},
			APIVersion:               2,
			DocFormat:                richtext.FormatPlainText,
			BulkOperations:           true,
			FieldSchemaIntrospection: true,
			AgileEndpoints:           true,
		},
	},
}

// cloudSet is the capability set for Jira Cloud. Cloud is continuously
// released, so it has no version rows: one set, REST v3 with ADF
// documents, basic auth with an API token (PATs are a Server/DC
// feature).
var cloudSet = Set{
	AuthMethods:              []AuthMethod{AuthBasic},
	APIVersion:               3,
	DocFormat:                richtext.FormatADF,
	BulkOperations:           true,
	FieldSchemaIntrospection: true,
	AgileEndpoints:           true,
}

// linearSet is the capability set for Linear's GraphQL API: a single
// protocol version, API-key auth, markdown documents. Schema
// introspection is native to GraphQL, so field discovery never falls
// back to heuristics. Cycles are the sprint analog, so the agile flag
// is on.
var linearSet = Set{
	AuthMethods:              []AuthMethod{AuthToken},
	DocFormat:                richtext.FormatMarkdown,
	FieldSchemaIntrospection: true,
	AgileEndpoints:           true,
}

// oldestDocumented is the lowest version the table covers. Versions
// below it are unsupported outright.
var oldestDocumented = serverTable[0].MinVersion

// Lookup resolves the capability set for a backend instance.
//
// For Jira Server/Data Center the version is matched against the
// documented rows with the round-down policy. ok is false when the
// version predates the oldest documented row, or when a versioned
// deployment is passed no version.
func Lookup(backend Backend, deployment Deployment, version *semver.Version) (Set, bool) {
	if backend == BackendLinear {
		return linearSet, true
	}

	if deployment == DeploymentCloud {
		return cloudSet, true
	}

	if version == nil || version.LessThan(oldestDocumented) {
		return Set{}, false
	}

	// Find the nearest documented row at or below the version. The
	// table is sorted, so take the last row whose MinVersion is not
	// greater than it.
	idx := sort.Search(len(serverTable), func(i int) bool {
		return serverTable[i].MinVersion.GreaterThan(version)
	})
	return serverTable[idx-1].Set, true
}

// DocumentedServerVersions lists the table's version points in
// ascending order. Exposed for tests asserting the round-down
// invariant across the whole table.
func DocumentedServerVersions() []*semver.Version {
	versions := make([]*semver.Version, len(serverTable))
	for i, row := range serverTable {
		versions[i] = row.MinVersion
	}
	return versions
}
