// Package rollout implements deterministic client-cohort selection for
// percentage-based release rollouts, including the time-based ramp that
// grows a rollout percentage from its initial value to 100 over a
// configured window.
package rollout

import (
	"math"
	"time"
)

// hash32 reproduces the classic 32-bit signed string-hash recurrence
// `h <- (h<<5) - h + codepoint(ch)` with two's-complement wraparound. This
// must be bit-exact: changing it re-shuffles every in-progress rollout
// cohort.
func hash32(s string) int32 {
	var h int32
	for _, r := range s {
		h = (h << 5) - h + int32(r)
	}
	return h
}

// IsSelectedForRollout decides whether clientID falls inside the rollout
// cohort for a given release tag (the release's label, or its
// packageHash when unlabeled).
func IsSelectedForRollout(clientID string, rolloutPercent float64, releaseTag string) bool {
	h := hash32(clientID + "-" + releaseTag)
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return float64(abs%100) < rolloutPercent
}

// IsUnfinishedRollout reports whether rollout is present and not yet 100.
func IsUnfinishedRollout(rollout *int) bool {
	return rollout != nil && *rollout != 100
}

// RampParams are the time-ramp inputs of a release's rollout
// configuration.
type RampParams struct {
	Rollout                    *int
	HoldDurationMinutes        *int
	RampDurationMinutes        *int
	UploadTime                 *time.Time
}

// EffectiveRollout computes the rollout percentage in effect at now,
// applying the hold-then-ramp schedule: the configured percentage holds
// flat for HoldDurationMinutes after upload, then ramps linearly to 100%
// over RampDurationMinutes. The result is rounded to three decimal
// places, so callers comparing against it must do so in floating point.
func EffectiveRollout(p RampParams, now time.Time) float64 {
	if p.Rollout == nil {
		return 100
	}
	if !IsUnfinishedRollout(p.Rollout) {
		return float64(*p.Rollout)
	}

	base := *p.Rollout
	if base < 0 {
		base = 0
	}

	if p.UploadTime == nil {
		return float64(base)
	}

	var holdMinutes, rampMinutes int
	if p.HoldDurationMinutes != nil {
		holdMinutes = *p.HoldDurationMinutes
	}
	if p.RampDurationMinutes != nil {
		rampMinutes = *p.RampDurationMinutes
	}
	holdMs := time.Duration(holdMinutes) * time.Minute
	rampMs := time.Duration(rampMinutes) * time.Minute

	elapsed := now.Sub(*p.UploadTime)

	if holdMs > 0 && elapsed < holdMs {
		return float64(base)
	}
	if holdMs == 0 && elapsed < 0 {
		return float64(base)
	}
	if rampMs <= 0 {
		return float64(base)
	}

	progress := float64(elapsed-holdMs) / float64(rampMs)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	computed := float64(base) + (100-float64(base))*progress
	computed = math.Round(computed*1000) / 1000

	if computed > 100 {
		computed = 100
	}
	if computed < float64(base) {
		computed = float64(base)
	}
	return computed
}
