package core

import (
	"context"
	"time"
)

// Release is a single versioned bundle published to a deployment.
//
// Releases are append-only from the acquisition service's point of view:
// promote/rollback/disable happen on the management surface and are only
// ever observed here as a fresh read from storage.
type Release struct {
	Label                      string               `json:"label" validate:"required"`
	AppVersion                 string               `json:"appVersion" validate:"required"`
	PackageHash                string               `json:"packageHash" validate:"required"`
	BlobURL                    string               `json:"blobUrl"`
	Size                       int64                `json:"size"`
	IsMandatory                bool                 `json:"isMandatory"`
	IsDisabled                 bool                 `json:"isDisabled"`
	Description                string               `json:"description,omitempty"`
	Rollout                    *int                 `json:"rollout,omitempty"`
	RolloutHoldDurationMinutes *int                 `json:"rolloutHoldDurationMinutes,omitempty"`
	RolloutRampDurationMinutes *int                 `json:"rolloutRampDurationMinutes,omitempty"`
	RolloutUploadTime          *time.Time           `json:"rolloutUploadTime,omitempty"`
	DiffPackageMap             map[string]DiffEntry `json:"diffPackageMap,omitempty"`
	UploadTime                 time.Time            `json:"uploadTime"`
}

// DiffEntry describes a binary-diff archive from some source packageHash to
// the release it is attached to.
type DiffEntry struct {
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// DiffMap is the per-(deploymentKey, targetPackageHash) cache payload: a map
// from source packageHash to the diff archive that upgrades from it.
type DiffMap map[string]DiffEntry

// ReleaseHistory is the ordered, oldest-first sequence of releases published
// to one deployment.
type ReleaseHistory struct {
	DeploymentKey string     `json:"deploymentKey"`
	Releases      []*Release `json:"releases"`
}

// ReleaseSet is the JSON shape `{releases: [...]}` shared by the cache and
// the storage layer.
type ReleaseSet struct {
	Releases []*Release `json:"releases"`
}

// CacheableResponse is the pre-selection payload stored in the distributed
// response cache: the release list filtered to those whose appVersion range
// could possibly match some request, verbatim, plus the HTTP status to
// replay alongside it.
type CacheableResponse struct {
	StatusCode int        `json:"statusCode"`
	Body       ReleaseSet `json:"body"`
}

// ReleaseHistoryStore is the storage abstraction the acquisition service
// reads release history from. The management REST surface that writes to
// it is out of scope for this service.
type ReleaseHistoryStore interface {
	GetPackageHistory(ctx context.Context, deploymentKey string) ([]*Release, error)
	Health(ctx context.Context) error
	Close() error
}

// UpdateCheckRequest is the canonical, dual-naming-resolved form of an
// incoming update-check request, regardless of which route or field-name
// family the client used.
type UpdateCheckRequest struct {
	DeploymentKey        string `validate:"required"`
	RawAppVersion        string `validate:"required"`
	NormalizedAppVersion string `validate:"required"`
	PackageHash          string
	Label                string
	ClientUniqueID       string
	IsCompanion          bool
	Beta                 bool
	OriginalURL          string `validate:"required"`
}

// UpdateInfo is the per-shape payload returned to clients. It is built and
// carried internally in legacy (camelCase) shape; the handler shallow-
// converts keys to snake_case when serializing for the new API route.
type UpdateInfo struct {
	IsAvailable       bool   `json:"isAvailable"`
	IsMandatory       bool   `json:"isMandatory"`
	AppVersion        string `json:"appVersion"`
	TargetBinaryRange string `json:"target_binary_range"`
	PackageHash       string `json:"packageHash,omitempty"`
	Label             string `json:"label,omitempty"`
	Description       string `json:"description,omitempty"`
	DownloadURL       string `json:"downloadURL,omitempty"`
	PackageSize       int64  `json:"packageSize,omitempty"`
	UpdateAppVersion  bool   `json:"updateAppVersion"`
}

// UpdateCheckResponse wraps UpdateInfo for the wire; the HTTP status is
// always 200 on this path per spec.
type UpdateCheckResponse struct {
	UpdateInfo *UpdateInfo `json:"updateInfo"`
}

// ReportDeployRequest is the canonical form of a `/reportStatus/deploy`
// body, dual-naming resolved.
type ReportDeployRequest struct {
	DeploymentKey             string `validate:"required"`
	AppVersion                string `validate:"required"`
	Label                     string
	Status                    string `validate:"omitempty,oneof=DeploymentSucceeded DeploymentFailed"`
	ClientUniqueID            string
	PreviousDeploymentKey     string
	PreviousLabelOrAppVersion string
}

// ReportDownloadRequest is the canonical form of a
// `/reportStatus/download` body.
type ReportDownloadRequest struct {
	DeploymentKey string `validate:"required"`
	Label         string `validate:"required"`
}

// Status values recognized by the metrics store.
const (
	StatusDeploymentSucceeded = "DeploymentSucceeded"
	StatusDeploymentFailed    = "DeploymentFailed"
	StatusDownloaded          = "Downloaded"
)

// MetricsBreakingVersion is the minimum reporting-client SDK version that
// uses the new (non-legacy) metrics recording path.
const MetricsBreakingVersion = "1.5.2-beta"
