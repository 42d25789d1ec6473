package adaptivity

import (
	"math"
	"testing"
)

func f64(v float64) *float64 { return &v }

func TestNewSnapshotDefaults(t *testing.T) {
	s := NewSnapshot(SnapshotInit{})
	if s.Metrics.AccEWMA != 1 {
		t.Fatalf("accEWMA default=%v, want 1", s.Metrics.AccEWMA)
	}
	if s.Metrics.LatencyEWMA != 1000 {
		t.Fatalf("latencyEWMA default=%v, want 1000", s.Metrics.LatencyEWMA)
	}
	if s.User.Lang != "he" {
		t.Fatalf("lang default=%q, want he", s.User.Lang)
	}
	if s.Env.Device != DeviceDesktop || !s.Env.Online {
		t.Fatalf("env default=%+v, want desktop/online", s.Env)
	}
	if s.User.A11y == nil || !s.User.A11y.Captions || s.User.A11y.Transcript {
		t.Fatalf("a11y default=%+v, want captions on, transcript off", s.User.A11y)
	}
	if s.Sticky == nil || s.PerSkill == nil || s.SeenVariants == nil {
		t.Fatalf("maps must be initialized")
	}
	if s.Policy.Version != "dev" {
		t.Fatalf("policy version default=%q, want dev", s.Policy.Version)
	}
}

func TestNewSnapshotMerge(t *testing.T) {
	online := false
	s := NewSnapshot(SnapshotInit{
		IDs:     SessionIDs{UserID: "u1", CourseID: "c1", LessonID: "l1", PageID: "p1"},
		User:    &UserInit{Lang: "en"},
		Env:     &EnvInit{Device: DeviceMobile, Online: &online},
		Metrics: &MetricsInit{AccEWMA: f64(0.5)},
	})
	if s.IDs.UserID != "u1" {
		t.Fatalf("ids not merged: %+v", s.IDs)
	}
	if s.User.Lang != "en" {
		t.Fatalf("lang=%q, want en", s.User.Lang)
	}
	if s.Env.Device != DeviceMobile || s.Env.Online {
		t.Fatalf("env=%+v, want mobile/offline", s.Env)
	}
	if s.Metrics.AccEWMA != 0.5 {
		t.Fatalf("accEWMA=%v, want 0.5", s.Metrics.AccEWMA)
	}
	// Untouched metric keys keep their defaults.
	if s.Metrics.LatencyEWMA != 1000 {
		t.Fatalf("latencyEWMA=%v, want default 1000", s.Metrics.LatencyEWMA)
	}
}

func TestUpdateAccuracyEWMAConvergence(t *testing.T) {
	cases := []struct {
		name    string
		correct bool
		check   func(acc float64) bool
	}{
		{name: "ten_correct_drives_above_0.9", correct: true, check: func(a float64) bool { return a > 0.9 }},
		{name: "ten_wrong_drives_below_0.1", correct: false, check: func(a float64) bool { return a < 0.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSnapshot(SnapshotInit{Metrics: &MetricsInit{AccEWMA: f64(0.5)}})
			for i := 0; i < 10; i++ {
				UpdateAccuracyEWMA(s, tc.correct, DefaultEWMAAlpha)
			}
			if !tc.check(s.Metrics.AccEWMA) {
				t.Fatalf("accEWMA after 10 updates=%v", s.Metrics.AccEWMA)
			}
			if s.Metrics.Attempts != 10 {
				t.Fatalf("attempts=%d, want 10", s.Metrics.Attempts)
			}
		})
	}
}

func TestUpdateAccuracyEWMAStreak(t *testing.T) {
	s := NewSnapshot(SnapshotInit{})
	UpdateAccuracyEWMA(s, true, DefaultEWMAAlpha)
	UpdateAccuracyEWMA(s, true, DefaultEWMAAlpha)
	if s.Metrics.Streak != 2 {
		t.Fatalf("streak=%d, want 2", s.Metrics.Streak)
	}
	UpdateAccuracyEWMA(s, false, DefaultEWMAAlpha)
	if s.Metrics.Streak != 0 {
		t.Fatalf("streak=%d after miss, want 0", s.Metrics.Streak)
	}
}

func TestUpdateAccuracyEWMAAlphaOne(t *testing.T) {
	s := NewSnapshot(SnapshotInit{Metrics: &MetricsInit{AccEWMA: f64(0.37)}})
	for i := 0; i < 5; i++ {
		UpdateAccuracyEWMA(s, false, 1)
	}
	if s.Metrics.AccEWMA != 0.37 {
		t.Fatalf("alpha=1 must leave accuracy unchanged, got %v", s.Metrics.AccEWMA)
	}
}

func TestUpdateLatencyEWMAClips(t *testing.T) {
	s := NewSnapshot(SnapshotInit{})
	UpdateLatencyEWMA(s, 50000, DefaultEWMAAlpha, DefaultLatencyClip)
	want := 0.8*1000 + 0.2*8000
	if math.Abs(s.Metrics.LatencyEWMA-want) > 1e-9 {
		t.Fatalf("latencyEWMA=%v, want %v (outlier clipped to 8000)", s.Metrics.LatencyEWMA, want)
	}
	UpdateLatencyEWMA(s, 1, DefaultEWMAAlpha, DefaultLatencyClip)
	want = 0.8*want + 0.2*300
	if math.Abs(s.Metrics.LatencyEWMA-want) > 1e-9 {
		t.Fatalf("latencyEWMA=%v, want %v (observation floored at 300)", s.Metrics.LatencyEWMA, want)
	}
}

func TestBumpIdleFloorsAtZero(t *testing.T) {
	s := NewSnapshot(SnapshotInit{})
	BumpIdle(s, 12)
	BumpIdle(s, -30)
	if s.Metrics.IdleSec != 0 {
		t.Fatalf("idleSec=%v, want 0", s.Metrics.IdleSec)
	}
	BumpIdle(s, 7)
	if s.Metrics.IdleSec != 7 {
		t.Fatalf("idleSec=%v, want 7", s.Metrics.IdleSec)
	}
}

func TestSetPreferenceThemeUpserts(t *testing.T) {
	s := NewSnapshot(SnapshotInit{})
	s.User.Preferences.Tone = &Preference{Value: "funny", Source: "student"}
	SetPreferenceTheme(s, "soccer", "student")
	if s.User.Preferences.Theme == nil || s.User.Preferences.Theme.Value != "soccer" {
		t.Fatalf("theme not set: %+v", s.User.Preferences.Theme)
	}
	if s.User.Preferences.Tone == nil || s.User.Preferences.Tone.Value != "funny" {
		t.Fatalf("tone preference disturbed: %+v", s.User.Preferences.Tone)
	}
	SetPreferenceTheme(s, "space", "system")
	if s.User.Preferences.Theme.Value != "space" || s.User.Preferences.Theme.Source != "system" {
		t.Fatalf("theme not overwritten: %+v", s.User.Preferences.Theme)
	}
}

func TestUpdateSkill(t *testing.T) {
	s := NewSnapshot(SnapshotInit{})
	UpdateSkill(s, "fractions", false, 5000, DefaultEWMAAlpha)
	st := s.PerSkill["fractions"]
	if st == nil {
		t.Fatalf("skill entry not created")
	}
	if st.Attempts != 1 || st.LastTS != 5000 {
		t.Fatalf("skill stats=%+v", st)
	}
	if math.Abs(st.AccEWMA-0.8) > 1e-9 {
		t.Fatalf("skill accEWMA=%v, want 0.8", st.AccEWMA)
	}
}
