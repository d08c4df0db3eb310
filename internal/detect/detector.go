// Package detect resolves a connection's server profile: it calls the
// backend's self-description endpoint, parses the reported version, and
// consults the static capability table. Detection runs once per
// connection and its result is cached by the provider.
package detect

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/phuslu/log"

	"github.com/trackwell/ticketbridge/internal/capability"
	"github.com/trackwell/ticketbridge/internal/ticket"
	"github.com/trackwell/ticketbridge/internal/transport"
)

// serverInfoPath is the Jira self-description endpoint. It answers
// unauthenticated on every supported release, which is what lets
// detection run before auth negotiation.
const serverInfoPath = "/rest/api/2/serverInfo"

// Target describes the backend instance to detect.
type Target struct {
	Backend capability.Backend
	BaseURL string

	// DeploymentHint distinguishes Server from Data Center, which
	// expose identical APIs. The detector overrides the hint when the
	// backend self-reports a different kind (e.g. hinted server,
	// actually Cloud).
	DeploymentHint capability.Deployment
}

// serverInfo is the relevant slice of Jira's serverInfo response.
type serverInfo struct {
	Version        string `json:"version"`
	VersionNumbers []int  `json:"versionNumbers"`
	DeploymentType string `json:"deploymentType"`
	ServerTitle    string `json:"serverTitle"`
}

// Detector computes server profiles.
type Detector struct {
	Client *transport.Client // Unauthenticated is sufficient
	Logger log.Logger
}

// Detect resolves the target's profile. On an unreachable endpoint or
// unparseable version it returns a *ticket.DetectionError: the caller
// must not proceed to authenticated operations with an assumed
// capability set.
func (d *Detector) Detect(ctx context.Context, target Target) (capability.ServerProfile, error) {
	if target.Backend == capability.BackendLinear {
		// Single protocol version, hosted only: the profile is fully
		// determined by the capability table with no metadata call.
		caps, _ := capability.Lookup(capability.BackendLinear, capability.DeploymentCloud, nil)
		return capability.ServerProfile{
			Backend:      capability.BackendLinear,
			Deployment:   capability.DeploymentCloud,
			Capabilities: caps,
		}, nil
	}

	var info serverInfo
	if err := d.Client.Get(ctx, serverInfoPath, &info); err != nil {
		return capability.ServerProfile{}, &ticket.DetectionError{
			BaseURL: target.BaseURL,
			Reason:  "unreachable",
			Err:     err,
		}
	}

	deployment := deploymentKind(info.DeploymentType, target.DeploymentHint)

	if deployment == capability.DeploymentCloud {
		caps, _ := capability.Lookup(capability.BackendJira, capability.DeploymentCloud, nil)
		d.Logger.Info().
			Str("deployment", string(deployment)).
			Str("title", info.ServerTitle).
			Msg("detected cloud instance")
		return capability.ServerProfile{
			Backend:      capability.BackendJira,
			Deployment:   deployment,
			Capabilities: caps,
		}, nil
	}

	version, err := parseVersion(info)
	if err != nil {
		return capability.ServerProfile{}, &ticket.DetectionError{
			BaseURL: target.BaseURL,
			Reason:  "unparseable-version",
			Detail:  info.Version,
			Err:     err,
		}
	}

	caps, ok := capability.Lookup(capability.BackendJira, deployment, version)
	if !ok {
		return capability.ServerProfile{}, &ticket.DetectionError{
			BaseURL: target.BaseURL,
			Reason:  "unparseable-version",
			Detail:  fmt.Sprintf("version %s predates the oldest supported release", version),
		}
	}

	d.Logger.Info().
		Str("deployment", string(deployment)).
		Str("version", version.String()).
		Str("title", info.ServerTitle).
		Msg("detected server instance")

	return capability.ServerProfile{
		Backend:      capability.BackendJira,
		Deployment:   deployment,
		Version:      version,
		Capabilities: caps,
	}, nil
}

// deploymentKind maps the self-reported deployment type, falling back
// to the connection hint for the Server/DataCenter split the wire
// format doesn't always distinguish.
func deploymentKind(reported string, hint capability.Deployment) capability.Deployment {
	switch reported {
	case "Cloud":
		return capability.DeploymentCloud
	case "DataCenter":
		return capability.DeploymentDataCenter
	case "Server":
		if hint == capability.DeploymentDataCenter {
			return hint
		}
		return capability.DeploymentServer
	default:
		if hint != "" {
			return hint
		}
		return capability.DeploymentServer
	}
}

// parseVersion prefers the structured versionNumbers array; the
// version string is a fallback since some releases decorate it with
// suffixes the string parser rejects.
func parseVersion(info serverInfo) (*semver.Version, error) {
	if len(info.VersionNumbers) >= 3 {
		return semver.New(
			uint64(info.VersionNumbers[0]),
			uint64(info.VersionNumbers[1]),
			uint64(info.VersionNumbers[2]),
			"", "",
		), nil
	}

	version, err := semver.NewVersion(info.Version)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", info.Version, err)
	}
	return version, nil
}
