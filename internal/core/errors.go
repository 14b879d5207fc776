package core

import "errors"

// Domain-level sentinel errors. These map to the error kinds enumerated in
// the error handling design: malformed requests surface synchronously,
// storage errors go through the shared REST error envelope, and cache/
// diff/metrics errors never escape past a log line.
var (
	// ErrMissingDeploymentKey is returned when a request omits the
	// required deploymentKey field.
	ErrMissingDeploymentKey = errors.New("deploymentKey is required")

	// ErrMissingAppVersion is returned when a request omits the required
	// appVersion field.
	ErrMissingAppVersion = errors.New("appVersion is required")

	// ErrInvalidAppVersion is returned when appVersion does not normalize
	// to a valid semver string.
	ErrInvalidAppVersion = errors.New("appVersion is not a valid semver string")

	// ErrMissingLabel is returned when a report-download request omits
	// the required label field.
	ErrMissingLabel = errors.New("label is required")

	// ErrMissingClientUniqueID is returned when the legacy metrics path
	// receives a report-deploy request with no clientUniqueId.
	ErrMissingClientUniqueID = errors.New("clientUniqueId is required for the legacy report path")

	// ErrDeploymentNotFound is returned by storage when a deployment key
	// has no recorded release history.
	ErrDeploymentNotFound = errors.New("deployment key has no release history")
)
