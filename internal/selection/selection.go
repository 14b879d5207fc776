// Package selection implements the update-selection engine: given a
// release history (oldest-first) and a parsed client request, it walks
// the history newest-first and produces exactly one UpdateCheckResponse,
// honoring rollout ramp-up, mandatory-flag forwarding across skipped
// releases, and binary-diff substitution.
package selection

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
	"github.com/vitaliisemenov/codepush-acquisition/internal/rollout"
)

// Request carries the parsed, dual-naming-resolved fields of an
// update-check request that the engine needs.
type Request struct {
	ClientUniqueID       string
	BetaRequested        bool
	RequestLabel         string
	RequestPackageHash   string
	RawAppVersion        string
	NormalizedAppVersion string
	RequestIsCompanion   bool
}

// DiffMapFetcher resolves the diff map cached for a given target package
// hash. Implementations must never return an error that the engine treats
// as anything but "no diff available" — see Select's finalization step.
type DiffMapFetcher func(ctx context.Context, targetPackageHash string) (core.DiffMap, error)

// Select runs the update-selection engine over releases (oldest-first, per
// the storage contract) and returns the single response to serialize.
func Select(ctx context.Context, releases []*core.Release, req Request, fetchDiffMap DiffMapFetcher, now time.Time, logger *slog.Logger) *core.UpdateInfo {
	if logger == nil {
		logger = slog.Default()
	}

	var selectedUpdate *core.UpdateInfo
	var selectedRelease *core.Release
	forceMandatory := false
	pendingMandatory := false

	appVersionForResponse := req.RawAppVersion
	if appVersionForResponse == "" {
		appVersionForResponse = req.NormalizedAppVersion
	}

	for i := len(releases) - 1; i >= 0; i-- {
		release := releases[i]

		isCurrent := (req.RequestLabel != "" && release.Label == req.RequestLabel) ||
			(req.RequestLabel == "" && req.RequestPackageHash != "" && release.PackageHash == req.RequestPackageHash)

		if isCurrent && release.IsDisabled {
			continue
		}

		if isCurrent {
			if selectedRelease != nil {
				return finalize(ctx, selectedUpdate, selectedRelease, forceMandatory, appVersionForResponse, req, fetchDiffMap, logger)
			}
			return &core.UpdateInfo{
				IsAvailable:       false,
				AppVersion:        appVersionForResponse,
				TargetBinaryRange: appVersionForResponse,
				UpdateAppVersion:  false,
			}
		}

		if release.IsDisabled {
			continue
		}

		applies := req.RequestIsCompanion || (req.NormalizedAppVersion != "" && satisfies(req.NormalizedAppVersion, release.AppVersion))
		if !applies {
			continue
		}

		if selectedRelease != nil {
			if release.IsMandatory {
				forceMandatory = true
			}
			continue
		}

		var selected bool
		if !rollout.IsUnfinishedRollout(release.Rollout) {
			selected = true
		} else {
			tag := release.Label
			if tag == "" {
				tag = release.PackageHash
			}
			effective := rollout.EffectiveRollout(rollout.RampParams{
				Rollout:             release.Rollout,
				HoldDurationMinutes: release.RolloutHoldDurationMinutes,
				RampDurationMinutes: release.RolloutRampDurationMinutes,
				UploadTime:          release.RolloutUploadTime,
			}, now)
			selected = req.BetaRequested || rollout.IsSelectedForRollout(req.ClientUniqueID, effective, tag)
		}

		if selected {
			selectedUpdate = createFromRelease(release)
			selectedRelease = release
			forceMandatory = pendingMandatory || release.IsMandatory
		} else if release.IsMandatory {
			pendingMandatory = true
		}
	}

	if selectedRelease != nil {
		return finalize(ctx, selectedUpdate, selectedRelease, forceMandatory, appVersionForResponse, req, fetchDiffMap, logger)
	}

	return &core.UpdateInfo{
		IsAvailable:       false,
		AppVersion:        appVersionForResponse,
		TargetBinaryRange: appVersionForResponse,
		UpdateAppVersion:  false,
	}
}

// satisfies reports whether normalizedAppVersion falls within the semver
// range (or exact version) named by constraint. An unparseable constraint
// or version never applies.
func satisfies(normalizedAppVersion, constraint string) bool {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(normalizedAppVersion)
	if err != nil {
		return false
	}
	return c.Check(v)
}

func createFromRelease(release *core.Release) *core.UpdateInfo {
	return &core.UpdateInfo{
		IsAvailable:      true,
		IsMandatory:      release.IsMandatory,
		PackageHash:      release.PackageHash,
		Label:            release.Label,
		Description:      release.Description,
		DownloadURL:      release.BlobURL,
		PackageSize:      release.Size,
		UpdateAppVersion: false,
	}
}

func finalize(ctx context.Context, update *core.UpdateInfo, release *core.Release, forceMandatory bool, appVersionForResponse string, req Request, fetchDiffMap DiffMapFetcher, logger *slog.Logger) *core.UpdateInfo {
	if req.RequestPackageHash != "" && fetchDiffMap != nil {
		diffMap, err := fetchDiffMap(ctx, release.PackageHash)
		if err != nil {
			logger.Warn("diff map fetch failed, falling back to full bundle",
				"packageHash", release.PackageHash, "error", err)
		} else if entry, ok := diffMap[req.RequestPackageHash]; ok {
			update.DownloadURL = entry.URL
			update.PackageSize = entry.Size
		}
	}

	if forceMandatory {
		update.IsMandatory = true
	}

	update.TargetBinaryRange = release.AppVersion
	update.AppVersion = appVersionForResponse

	return update
}

// ApplyProxy rewrites the scheme and host of downloadURL to proxyBase's,
// preserving path and query. Any parse error falls back to the original
// URL unchanged.
func ApplyProxy(downloadURL, proxyBase string) string {
	if proxyBase == "" || downloadURL == "" {
		return downloadURL
	}
	proxy, err := url.Parse(proxyBase)
	if err != nil {
		return downloadURL
	}
	orig, err := url.Parse(downloadURL)
	if err != nil {
		return downloadURL
	}
	orig.Scheme = proxy.Scheme
	orig.Host = proxy.Host
	return orig.String()
}
