package selection

import (
	"context"
	"testing"
	"time"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

func intPtr(v int) *int { return &v }

func baseRequest() Request {
	return Request{
		ClientUniqueID:       "c1",
		RawAppVersion:        "1.0.0",
		NormalizedAppVersion: "1.0.0",
	}
}

// Scenario 1: empty history yields a no-update response echoing the
// client's own version back as both appVersion and target_binary_range.
func TestSelect_EmptyHistory(t *testing.T) {
	update := Select(context.Background(), nil, baseRequest(), nil, time.Now(), nil)

	if update.IsAvailable {
		t.Fatalf("expected no update, got %+v", update)
	}
	if update.AppVersion != "1.0.0" || update.TargetBinaryRange != "1.0.0" {
		t.Fatalf("unexpected echo fields: %+v", update)
	}
	if update.UpdateAppVersion {
		t.Fatalf("expected updateAppVersion=false, got true")
	}
}

// Scenario 2: a single fully rolled out release with no packageHash on the
// request is returned as the available update, sourced from the release.
func TestSelect_SingleFullyRolledOutReleaseSelected(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", BlobURL: "https://cdn/v1.zip", Size: 1024},
	}

	update := Select(context.Background(), releases, baseRequest(), nil, time.Now(), nil)

	if !update.IsAvailable {
		t.Fatalf("expected update available, got %+v", update)
	}
	if update.Label != "v1" || update.PackageHash != "H1" {
		t.Fatalf("expected v1/H1 selected, got %+v", update)
	}
	if update.DownloadURL != "https://cdn/v1.zip" || update.PackageSize != 1024 {
		t.Fatalf("expected full bundle URL/size from release, got %+v", update)
	}
}

// Scenario 3: a request already on the single available release's
// packageHash is recognized as current and gets a no-update response.
func TestSelect_RequestAlreadyOnOnlyRelease(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", BlobURL: "https://cdn/v1.zip"},
	}
	req := baseRequest()
	req.RequestPackageHash = "H1"

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if update.IsAvailable {
		t.Fatalf("expected no update when request is already current, got %+v", update)
	}
}

// Scenario 4: client on v1 (mandatory, fully rolled out) with a newer v2
// whose rollout cohort excludes this client. Walking newest-first skips
// v2 without selecting it (and without latching pendingMandatory, since
// v2 itself is not mandatory), then recognizes v1 as current and returns
// no-update.
func TestSelect_CurrentReleaseTerminatesWalkEvenWithNewerSkippedRollout(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", IsMandatory: true},
		{Label: "v2", AppVersion: "1.0.0", PackageHash: "H2", Rollout: intPtr(50)},
	}
	req := baseRequest()
	req.RequestPackageHash = "H1" // client's cohort hash for "c1-v2" is 91, excluded by a 50% rollout

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if update.IsAvailable {
		t.Fatalf("expected no update, got %+v", update)
	}
}

// Scenario 5: same history, but this client's cohort hash does fall
// inside v2's rollout band, so v2 is selected. Walking onward then hits
// v1 as the current release and finalizes on v2 without mandatory
// escalation, since v1 (the current release) never contributes to
// forceMandatory.
func TestSelect_ClientInRolloutCohortSelectsNewerRelease(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", IsMandatory: true},
		{Label: "v2", AppVersion: "1.0.0", PackageHash: "H2", Rollout: intPtr(95)},
	}
	req := baseRequest()
	req.RequestPackageHash = "H1" // client's cohort hash for "c1-v2" is 91, inside a 95% rollout

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if !update.IsAvailable || update.Label != "v2" {
		t.Fatalf("expected v2 selected, got %+v", update)
	}
	if update.IsMandatory {
		t.Fatalf("expected isMandatory=false, got true: %+v", update)
	}
}

// Scenario 6: client on v1, with v2 (mandatory, rollout cohort excludes
// this client) and v3 (fully available) published after it. v3 is
// selected outright; v2 is then an older applicable release and, because
// it is mandatory, sets forceMandatory directly (its rollout cohort is
// not evaluated once a release has been selected), so v3 is returned as
// mandatory.
func TestSelect_MandatoryForwardingAcrossSkippedRolloutRelease(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1"},
		{Label: "v2", AppVersion: "1.0.0", PackageHash: "H2", IsMandatory: true, Rollout: intPtr(50)},
		{Label: "v3", AppVersion: "1.0.0", PackageHash: "H3"},
	}
	req := baseRequest()
	req.RequestPackageHash = "H1" // client's cohort hash for "c1-v2" is 91, excluded by a 50% rollout

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if !update.IsAvailable || update.Label != "v3" {
		t.Fatalf("expected v3 selected, got %+v", update)
	}
	if !update.IsMandatory {
		t.Fatalf("expected mandatory forwarding from skipped v2 onto v3, got %+v", update)
	}
}

// A disabled release matching the client's current packageHash does not
// terminate the walk early; selection continues onto older releases as
// if the client's version were simply unrecognized.
func TestSelect_DisabledCurrentReleaseDoesNotTerminateWalk(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1"},
		{Label: "v2", AppVersion: "1.0.0", PackageHash: "H2", IsDisabled: true},
	}
	req := baseRequest()
	req.RequestPackageHash = "H2"

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if !update.IsAvailable || update.Label != "v1" {
		t.Fatalf("expected walk to continue past disabled current release onto v1, got %+v", update)
	}
}

// A disabled, non-current release is skipped outright and never becomes
// a selection candidate, even when it would otherwise apply.
func TestSelect_DisabledNonCurrentReleaseIsSkipped(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1"},
		{Label: "v2", AppVersion: "1.0.0", PackageHash: "H2", IsDisabled: true},
	}
	req := baseRequest()

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if !update.IsAvailable || update.Label != "v1" {
		t.Fatalf("expected disabled v2 skipped in favor of v1, got %+v", update)
	}
}

// A companion app's update check bypasses the appVersion semver
// constraint entirely: a release whose appVersion range would not
// otherwise match the client is still selected.
func TestSelect_CompanionRequestBypassesAppVersionConstraint(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "2.0.0", PackageHash: "H1"},
	}
	req := baseRequest()
	req.RequestIsCompanion = true

	update := Select(context.Background(), releases, req, nil, time.Now(), nil)

	if !update.IsAvailable || update.Label != "v1" {
		t.Fatalf("expected companion request to match despite appVersion mismatch, got %+v", update)
	}
}

// Without the companion flag, a release whose appVersion range the
// client's normalized version does not satisfy is never selected.
func TestSelect_NonCompanionRequestRespectsAppVersionConstraint(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "2.0.0", PackageHash: "H1"},
	}

	update := Select(context.Background(), releases, baseRequest(), nil, time.Now(), nil)

	if update.IsAvailable {
		t.Fatalf("expected no update for a version-mismatched release, got %+v", update)
	}
}

// When the request carries a packageHash, the diff map fetcher is
// consulted and, on a match, its entry replaces the full-bundle
// downloadURL/packageSize.
func TestSelect_DiffMapSubstitutesDownloadWhenRequestHasPackageHash(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", BlobURL: "https://cdn/v0-to-v1-old", Size: 999},
		{Label: "v2", AppVersion: "1.0.0", PackageHash: "H2", BlobURL: "https://cdn/v2-full.zip", Size: 2048},
	}
	req := baseRequest()
	req.RequestPackageHash = "H0"

	fetch := func(ctx context.Context, targetPackageHash string) (core.DiffMap, error) {
		if targetPackageHash != "H2" {
			t.Fatalf("expected diff map fetched for selected release H2, got %q", targetPackageHash)
		}
		return core.DiffMap{
			"H0": core.DiffEntry{URL: "https://cdn/diff-h0-to-h2.zip", Size: 128},
		}, nil
	}

	update := Select(context.Background(), releases, req, fetch, time.Now(), nil)

	if !update.IsAvailable || update.Label != "v2" {
		t.Fatalf("expected v2 selected, got %+v", update)
	}
	if update.DownloadURL != "https://cdn/diff-h0-to-h2.zip" || update.PackageSize != 128 {
		t.Fatalf("expected diff package substituted, got %+v", update)
	}
}

// When the diff map fetcher errors, finalize falls back to the full
// bundle URL rather than propagating the error.
func TestSelect_DiffMapFetchErrorFallsBackToFullBundle(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", BlobURL: "https://cdn/v1-full.zip", Size: 4096},
	}
	req := baseRequest()
	req.RequestPackageHash = "H0"

	fetch := func(ctx context.Context, targetPackageHash string) (core.DiffMap, error) {
		return nil, context.DeadlineExceeded
	}

	update := Select(context.Background(), releases, req, fetch, time.Now(), nil)

	if !update.IsAvailable || update.DownloadURL != "https://cdn/v1-full.zip" || update.PackageSize != 4096 {
		t.Fatalf("expected fallback to full bundle on fetch error, got %+v", update)
	}
}

// When the diff map has no entry for the requesting client's packageHash,
// the full bundle stands unchanged.
func TestSelect_DiffMapWithoutMatchingEntryKeepsFullBundle(t *testing.T) {
	releases := []*core.Release{
		{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", BlobURL: "https://cdn/v1-full.zip", Size: 4096},
	}
	req := baseRequest()
	req.RequestPackageHash = "H0"

	fetch := func(ctx context.Context, targetPackageHash string) (core.DiffMap, error) {
		return core.DiffMap{"SOME-OTHER-HASH": core.DiffEntry{URL: "https://cdn/unrelated.zip", Size: 1}}, nil
	}

	update := Select(context.Background(), releases, req, fetch, time.Now(), nil)

	if update.DownloadURL != "https://cdn/v1-full.zip" || update.PackageSize != 4096 {
		t.Fatalf("expected full bundle retained when diff map has no match, got %+v", update)
	}
}

// ApplyProxy rewrites scheme and host while preserving path and query.
func TestApplyProxy(t *testing.T) {
	got := ApplyProxy("https://storage.example/blobs/abc?sig=xyz", "https://proxy.internal")
	want := "https://proxy.internal/blobs/abc?sig=xyz"
	if got != want {
		t.Fatalf("ApplyProxy() = %q, want %q", got, want)
	}
}

// ApplyProxy falls back to the original URL on a malformed proxy base or
// download URL rather than erroring.
func TestApplyProxy_FallsBackOnParseFailure(t *testing.T) {
	original := "https://storage.example/blobs/abc"
	if got := ApplyProxy(original, "://not-a-valid-url"); got != original {
		t.Fatalf("ApplyProxy() = %q, want original %q preserved", got, original)
	}
	if got := ApplyProxy("", "https://proxy.internal"); got != "" {
		t.Fatalf("ApplyProxy() = %q, want empty string preserved", got)
	}
}
