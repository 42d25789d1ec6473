package adaptivity

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func testEngine(nowMS int64) *Engine {
	return NewEngine(WithClock(func() time.Time { return time.UnixMilli(nowMS) }))
}

func twoVariantSlot() *Slot {
	return &Slot{
		ID: "slot-1",
		Variants: []Variant{
			{
				ID:           "A",
				Guard:        "session.metrics.accEWMA < 0.7",
				ScoreWeights: &ScoreWeights{PreferLowAcc: 0.8},
			},
			{ID: "B", Guard: "true"},
		},
	}
}

func TestSelectZeroVariantsFails(t *testing.T) {
	e := testEngine(1000)
	s := NewSnapshot(SnapshotInit{})
	_, err := e.Select(&Slot{ID: "empty"}, s, Policy{Version: "v1"}, SelectOptions{})
	var nve *NoVariantsError
	if !errors.As(err, &nve) {
		t.Fatalf("err=%v, want NoVariantsError", err)
	}
	if nve.SlotID != "empty" {
		t.Fatalf("error slot=%q", nve.SlotID)
	}
}

func TestSelectPolicyDenial(t *testing.T) {
	e := testEngine(1000)
	deny := Policy{Version: "v2", Allows: func(*Slot, *SessionSnapshot) bool { return false }}

	t.Run("uses_declared_fallback", func(t *testing.T) {
		s := NewSnapshot(SnapshotInit{})
		slot := twoVariantSlot()
		slot.FallbackVariantID = "B"
		res, err := e.Select(slot, s, deny, SelectOptions{Trace: true})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if res.VariantID != "B" {
			t.Fatalf("variant=%q, want fallback B", res.VariantID)
		}
		// Short-circuit path: no guards or scores evaluated even with trace on.
		if len(res.Why.Guards) != 0 || len(res.Why.Score) != 0 {
			t.Fatalf("why=%+v, want empty guards/score", res.Why)
		}
		rec := s.Sticky["slot-1"]
		if rec == nil || rec.VariantID != "B" || rec.Reason != ReasonFirstPick || rec.Strength != StickyWeak {
			t.Fatalf("sticky=%+v, want weak first_pick for B", rec)
		}
	})

	t.Run("falls_back_to_first_variant", func(t *testing.T) {
		s := NewSnapshot(SnapshotInit{})
		res, err := e.Select(twoVariantSlot(), s, deny, SelectOptions{})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if res.VariantID != "A" {
			t.Fatalf("variant=%q, want first variant A", res.VariantID)
		}
	})

	t.Run("policy_version_recorded", func(t *testing.T) {
		s := NewSnapshot(SnapshotInit{})
		res, _ := e.Select(twoVariantSlot(), s, deny, SelectOptions{})
		if res.Why.PolicyVersion != "v2" {
			t.Fatalf("policyVersion=%q, want v2", res.Why.PolicyVersion)
		}
	})
}

func TestSelectOverrideWins(t *testing.T) {
	e := testEngine(1000)
	s := NewSnapshot(SnapshotInit{
		Overrides: &Overrides{ForceVariant: map[SlotID]VariantID{"slot-1": "B"}, Source: "teacher"},
	})
	// A valid sticky for A exists; the override must still win.
	s.Sticky["slot-1"] = &StickyRecord{VariantID: "A", At: 900}
	res, err := e.Select(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.VariantID != "B" || !res.Why.OverridesUsed {
		t.Fatalf("result=%+v, want forced B with overridesUsed", res)
	}
	if len(res.Why.Guards) != 0 || len(res.Why.Score) != 0 {
		t.Fatalf("override path must not evaluate guards/scores: %+v", res.Why)
	}
	rec := s.Sticky["slot-1"]
	if rec.VariantID != "B" || rec.Reason != ReasonTeacherChoice || rec.Strength != StickyStrong {
		t.Fatalf("sticky=%+v, want strong teacher_choice for B", rec)
	}
}

func TestSelectExpiredOverrideIgnored(t *testing.T) {
	e := testEngine(10_000)
	s := NewSnapshot(SnapshotInit{
		Metrics:   &MetricsInit{AccEWMA: f64(0.4)},
		Overrides: &Overrides{ForceVariant: map[SlotID]VariantID{"slot-1": "B"}, ExpiresAt: 5000},
	})
	res, err := e.Select(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Why.OverridesUsed {
		t.Fatalf("expired override must not be applied")
	}
	if res.VariantID != "A" {
		t.Fatalf("variant=%q, want scored winner A", res.VariantID)
	}
}

func TestSelectStickyRetained(t *testing.T) {
	e := testEngine(4000)
	s := NewSnapshot(SnapshotInit{})
	s.Sticky["slot-1"] = &StickyRecord{VariantID: "B", At: 1000, TTLMS: 5000, Reason: ReasonFirstPick}
	res, err := e.Select(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.VariantID != "B" || !res.Why.StickyUsed {
		t.Fatalf("result=%+v, want sticky B", res)
	}
	if len(res.Why.Guards) != 0 || len(res.Why.Score) != 0 {
		t.Fatalf("sticky path must skip guards/scores: %+v", res.Why)
	}
	if s.Sticky["slot-1"].At != 1000 {
		t.Fatalf("sticky path must not rewrite the record")
	}
}

func TestSelectStickyExpiredReevaluates(t *testing.T) {
	e := testEngine(7000)
	s := NewSnapshot(SnapshotInit{Metrics: &MetricsInit{AccEWMA: f64(0.4)}})
	s.Sticky["slot-1"] = &StickyRecord{VariantID: "B", At: 1000, TTLMS: 5000}
	res, err := e.Select(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Why.StickyUsed {
		t.Fatalf("expired sticky must not be honored")
	}
	if res.VariantID != "A" {
		t.Fatalf("variant=%q, want re-scored A", res.VariantID)
	}
	if rec := s.Sticky["slot-1"]; rec.VariantID != "A" || rec.At != 7000 {
		t.Fatalf("sticky=%+v, want fresh commit for A", rec)
	}
}

func TestSelectLabelPreFilter(t *testing.T) {
	e := testEngine(1000)
	slot := &Slot{
		ID: "slot-1",
		Variants: []Variant{
			{ID: "he-only", Meta: VariantMeta{Language: "he"}},
			{ID: "desktop-only", Meta: VariantMeta{DeviceFit: []Device{DeviceDesktop}}},
			{ID: "other-track", Meta: VariantMeta{Track: "humanities"}},
			{ID: "fits"},
		},
	}
	s := NewSnapshot(SnapshotInit{
		IDs:  SessionIDs{TrackID: "stem"},
		User: &UserInit{Lang: "en"},
		Env:  &EnvInit{Device: DeviceMobile},
	})
	res, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.VariantID != "fits" {
		t.Fatalf("variant=%q, want fits", res.VariantID)
	}
	// Pre-filtered variants never reach guard evaluation.
	if len(res.Why.Guards) != 1 {
		t.Fatalf("guards=%+v, want only the surviving variant", res.Why.Guards)
	}
}

func TestSelectGuardFailSoft(t *testing.T) {
	e := testEngine(1000)
	slot := &Slot{
		ID: "slot-1",
		Variants: []Variant{
			{ID: "broken", Guard: "not a valid guard !!!"},
			{ID: "ok", Guard: "session.metrics.accEWMA <= 1"},
		},
	}
	s := NewSnapshot(SnapshotInit{})
	res, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("broken guard must not fail the call: %v", err)
	}
	if res.VariantID != "ok" {
		t.Fatalf("variant=%q, want ok", res.VariantID)
	}
	if res.Why.Guards["broken"] != false || res.Why.Guards["ok"] != true {
		t.Fatalf("guards=%+v", res.Why.Guards)
	}
}

func TestSelectFallbackWhenAllGuardsFail(t *testing.T) {
	e := testEngine(1000)

	t.Run("fallback_is_the_guarded_variant_itself", func(t *testing.T) {
		slot := &Slot{
			ID:                "slot-1",
			FallbackVariantID: "only",
			Variants:          []Variant{{ID: "only", Guard: "false"}},
		}
		s := NewSnapshot(SnapshotInit{})
		res, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if res.VariantID != "only" {
			t.Fatalf("variant=%q, want declared fallback", res.VariantID)
		}
	})

	t.Run("first_declared_when_no_fallback", func(t *testing.T) {
		slot := &Slot{
			ID: "slot-1",
			Variants: []Variant{
				{ID: "first", Guard: "false"},
				{ID: "second", Guard: "false"},
			},
		}
		s := NewSnapshot(SnapshotInit{})
		res, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if res.VariantID != "first" {
			t.Fatalf("variant=%q, want first", res.VariantID)
		}
	})
}

func TestSelectTieBreakDeclarationOrder(t *testing.T) {
	e := testEngine(1000)
	slot := &Slot{
		ID: "slot-1",
		Variants: []Variant{
			{ID: "first"},
			{ID: "second"},
			{ID: "third"},
		},
	}
	s := NewSnapshot(SnapshotInit{})
	res, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.VariantID != "first" {
		t.Fatalf("variant=%q, equal scores must keep declaration order", res.VariantID)
	}
}

func TestSelectCommitUsesVariantStickyConfig(t *testing.T) {
	e := testEngine(1000)
	slot := &Slot{
		ID: "slot-1",
		Variants: []Variant{
			{ID: "v1", Sticky: &StickyConfig{Scope: ScopeCourse, Strength: StickyStrong}},
		},
	}
	s := NewSnapshot(SnapshotInit{})
	if _, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{}); err != nil {
		t.Fatalf("select: %v", err)
	}
	rec := s.Sticky["slot-1"]
	if rec.Scope != ScopeCourse || rec.Strength != StickyStrong {
		t.Fatalf("sticky=%+v, want course/strong from variant config", rec)
	}
}

func TestDecideIsPure(t *testing.T) {
	e := testEngine(1000)
	s := NewSnapshot(SnapshotInit{Metrics: &MetricsInit{AccEWMA: f64(0.4)}})
	res1, intent, err := e.Decide(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(s.Sticky) != 0 {
		t.Fatalf("decide must not mutate the session")
	}
	res2, _, err := e.Decide(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !reflect.DeepEqual(res1, res2) {
		t.Fatalf("identical inputs must yield identical results:\n%+v\n%+v", res1, res2)
	}
	e.Commit(s, intent)
	if rec := s.Sticky["slot-1"]; rec == nil || rec.VariantID != res1.VariantID {
		t.Fatalf("commit did not apply the intent: %+v", rec)
	}
}

func TestSelectEndToEndScenario(t *testing.T) {
	e := testEngine(1000)
	s := NewSnapshot(SnapshotInit{Metrics: &MetricsInit{AccEWMA: f64(0.4)}})
	res, err := e.Select(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{Trace: true})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.VariantID != "A" {
		t.Fatalf("variant=%q, want A", res.VariantID)
	}
	if !res.Why.Guards["A"] || !res.Why.Guards["B"] {
		t.Fatalf("guards=%+v, want both passing", res.Why.Guards)
	}
	if res.Why.Score["A"] <= res.Why.Score["B"] {
		t.Fatalf("score A=%v must beat B=%v", res.Why.Score["A"], res.Why.Score["B"])
	}
}

func TestSelectTraceOffLeavesWhyEmpty(t *testing.T) {
	e := testEngine(1000)
	s := NewSnapshot(SnapshotInit{})
	res, err := e.Select(twoVariantSlot(), s, Policy{Version: "v1"}, SelectOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Why.Guards) != 0 || len(res.Why.Score) != 0 {
		t.Fatalf("trace off must leave guard/score maps empty: %+v", res.Why)
	}
}

func TestSelectStickyMakesRepeatViewsStable(t *testing.T) {
	e := testEngine(1000)
	s := NewSnapshot(SnapshotInit{Metrics: &MetricsInit{AccEWMA: f64(0.4)}})
	slot := twoVariantSlot()
	first, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// Accuracy drifts upward; the remembered choice still holds.
	UpdateAccuracyEWMA(s, true, DefaultEWMAAlpha)
	UpdateAccuracyEWMA(s, true, DefaultEWMAAlpha)
	second, err := e.Select(slot, s, Policy{Version: "v1"}, SelectOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if second.VariantID != first.VariantID || !second.Why.StickyUsed {
		t.Fatalf("repeat view changed variant: %+v then %+v", first, second)
	}
}
