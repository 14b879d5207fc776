package rollout

import (
	"testing"
	"time"
)

func intPtr(i int) *int { return &i }

func TestHash32EmptyString(t *testing.T) {
	if got := hash32(""); got != 0 {
		t.Fatalf("hash32(\"\") = %d, want 0", got)
	}
}

func TestIsSelectedForRolloutDeterministic(t *testing.T) {
	a := IsSelectedForRollout("client-1", 50, "v17")
	b := IsSelectedForRollout("client-1", 50, "v17")
	if a != b {
		t.Fatal("IsSelectedForRollout is not deterministic for identical inputs")
	}
}

func TestIsSelectedForRolloutConvergesToPercentage(t *testing.T) {
	const n = 20000
	selected := 0
	for i := 0; i < n; i++ {
		client := "client-" + time.Duration(i).String()
		if IsSelectedForRollout(client, 30, "v1") {
			selected++
		}
	}
	frac := float64(selected) / float64(n)
	if frac < 0.25 || frac > 0.35 {
		t.Fatalf("selected fraction %.3f does not converge near 0.30", frac)
	}
}

func TestIsUnfinishedRollout(t *testing.T) {
	if IsUnfinishedRollout(nil) {
		t.Fatal("nil rollout should be finished (absent = fully rolled out)")
	}
	if IsUnfinishedRollout(intPtr(100)) {
		t.Fatal("rollout of 100 should be finished")
	}
	if !IsUnfinishedRollout(intPtr(50)) {
		t.Fatal("rollout of 50 should be unfinished")
	}
}

func TestEffectiveRolloutAbsentRollout(t *testing.T) {
	got := EffectiveRollout(RampParams{}, time.Now())
	if got != 100 {
		t.Fatalf("EffectiveRollout with no rollout = %v, want 100", got)
	}
}

func TestEffectiveRolloutFinishedRollout(t *testing.T) {
	got := EffectiveRollout(RampParams{Rollout: intPtr(100)}, time.Now())
	if got != 100 {
		t.Fatalf("EffectiveRollout with rollout=100 = %v, want 100", got)
	}
}

func TestEffectiveRolloutNoUploadTimeReturnsBase(t *testing.T) {
	got := EffectiveRollout(RampParams{Rollout: intPtr(25)}, time.Now())
	if got != 25 {
		t.Fatalf("EffectiveRollout with no uploadTime = %v, want base 25", got)
	}
}

func TestEffectiveRolloutWithinHoldWindow(t *testing.T) {
	now := time.Now()
	upload := now.Add(-5 * time.Minute)
	got := EffectiveRollout(RampParams{
		Rollout:             intPtr(10),
		HoldDurationMinutes: intPtr(30),
		RampDurationMinutes: intPtr(60),
		UploadTime:          &upload,
	}, now)
	if got != 10 {
		t.Fatalf("EffectiveRollout within hold window = %v, want base 10", got)
	}
}

func TestEffectiveRolloutAtRampExpiry(t *testing.T) {
	now := time.Now()
	upload := now.Add(-100 * time.Minute)
	got := EffectiveRollout(RampParams{
		Rollout:             intPtr(10),
		HoldDurationMinutes: intPtr(30),
		RampDurationMinutes: intPtr(60),
		UploadTime:          &upload,
	}, now)
	if got != 100 {
		t.Fatalf("EffectiveRollout past ramp expiry = %v, want 100", got)
	}
}

func TestEffectiveRolloutMonotonicallyNonDecreasing(t *testing.T) {
	upload := time.Now().Add(-200 * time.Minute)
	params := RampParams{
		Rollout:             intPtr(10),
		HoldDurationMinutes: intPtr(30),
		RampDurationMinutes: intPtr(60),
		UploadTime:          &upload,
	}
	prev := EffectiveRollout(params, upload)
	for m := 0; m <= 200; m += 5 {
		now := upload.Add(time.Duration(m) * time.Minute)
		cur := EffectiveRollout(params, now)
		if cur < prev {
			t.Fatalf("EffectiveRollout decreased at minute %d: %v < %v", m, cur, prev)
		}
		prev = cur
	}
}

func TestEffectiveRolloutZeroHoldNegativeElapsed(t *testing.T) {
	now := time.Now()
	upload := now.Add(5 * time.Minute) // upload time in the future relative to now
	got := EffectiveRollout(RampParams{
		Rollout:             intPtr(20),
		HoldDurationMinutes: intPtr(0),
		RampDurationMinutes: intPtr(60),
		UploadTime:          &upload,
	}, now)
	if got != 20 {
		t.Fatalf("EffectiveRollout with negative elapsed under zero hold = %v, want base 20", got)
	}
}
