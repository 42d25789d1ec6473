package adaptivity

import (
	"reflect"
	"testing"
)

func guardSession() *SessionSnapshot {
	s := NewSnapshot(SnapshotInit{
		IDs:     SessionIDs{UserID: "u1", CourseID: "c1", LessonID: "l1", PageID: "p1", TrackID: "stem"},
		User:    &UserInit{Lang: "en"},
		Env:     &EnvInit{Device: DeviceMobile},
		Metrics: &MetricsInit{AccEWMA: f64(0.4)},
	})
	s.Metrics.Attempts = 3
	SetPreferenceTheme(s, "soccer", "student")
	return s
}

func activation(s *SessionSnapshot) GuardActivation {
	return GuardActivation{
		Session: s,
		SlotID:  "slot-1",
		Variant: &Variant{ID: "v1", Meta: VariantMeta{Difficulty: "easy", Modality: "video", DurationSec: 90}},
	}
}

func TestGuardExpressions(t *testing.T) {
	s := guardSession()
	a := activation(s)
	cases := []struct {
		name string
		src  string
		want bool
	}{
		{"low_accuracy", "session.metrics.accEWMA < 0.7", true},
		{"high_accuracy", "session.metrics.accEWMA >= 0.8", false},
		{"and_short_circuit", "session.metrics.attempts > 2 && session.metrics.streak == 0", true},
		{"or", "session.user.lang == 'he' || session.user.lang == 'en'", true},
		{"parens", "(session.metrics.accEWMA < 0.7 || session.metrics.streak >= 3) && session.env.online", true},
		{"device_eq", "session.env.device == 'mobile'", true},
		{"slot_id", "slotId == 'slot-1'", true},
		{"variant_meta", "variant.meta.difficulty == 'easy'", true},
		{"variant_number", "variant.meta.durationSec <= 120", true},
		{"theme_pref", "session.user.preferences.theme.value == 'soccer'", true},
		{"not", "!session.env.online == false", true},
		{"unary_minus", "session.metrics.accEWMA > -1", true},
		{"double_quotes", `session.user.lang == "en"`, true},
		{"null_eq_missing_pref", "session.user.preferences.tone == null", true},
		{"null_ne", "session.user.preferences.theme != null", true},
		{"missing_map_key_is_null", "session.sticky.unknownSlot == null", true},
		{"type_mismatch_not_equal", "session.metrics.accEWMA == 'fast'", false},
		{"string_compare", "session.user.lang >= 'aa'", true},
	}
	ev := NewGuardEvaluator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ev.CompileSource(tc.src)(a)
			if got != tc.want {
				t.Fatalf("%q = %v, want %v", tc.src, got, tc.want)
			}
		})
	}
}

func TestGuardFailClosed(t *testing.T) {
	s := guardSession()
	a := activation(s)
	cases := []struct {
		name string
		src  string
	}{
		{"syntax_error", "session.metrics.accEWMA <"},
		{"garbage", "this is not an expression"},
		{"unknown_root", "window.alert == true"},
		{"unknown_property", "session.metrics.nope > 1"},
		{"read_of_null_container", "session.user.preferences.tone.value == 'funny'"},
		{"non_boolean_result", "session.metrics.accEWMA"},
		{"logical_on_number", "session.metrics.accEWMA && true"},
		{"single_equals", "session.user.lang = 'en'"},
	}
	ev := NewGuardEvaluator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if ev.CompileSource(tc.src)(a) {
				t.Fatalf("%q must evaluate to false", tc.src)
			}
		})
	}
}

func TestGuardCompileCacheIdentity(t *testing.T) {
	ev := NewGuardEvaluator()
	src := "session.metrics.accEWMA < 0.7"
	fn1 := ev.CompileSource(src)
	fn2 := ev.CompileSource(src)
	if reflect.ValueOf(fn1).Pointer() != reflect.ValueOf(fn2).Pointer() {
		t.Fatalf("identical guard text must compile to the same cached predicate")
	}
	fn3 := ev.CompileSource("session.metrics.accEWMA < 0.8")
	if reflect.ValueOf(fn1).Pointer() == reflect.ValueOf(fn3).Pointer() {
		t.Fatalf("different guard text must not share a predicate")
	}
}

func TestGuardPassThroughPredicate(t *testing.T) {
	ev := NewGuardEvaluator()
	called := false
	fn := GuardFn(func(GuardActivation) bool { called = true; return true })
	v := &Variant{ID: "v1", Guard: "session.metrics.accEWMA < 0", GuardFn: fn}
	got := ev.Compile(v)
	if !got(GuardActivation{}) || !called {
		t.Fatalf("precompiled predicate must be used as-is")
	}
}

func TestGuardAbsentAlwaysTrue(t *testing.T) {
	ev := NewGuardEvaluator()
	if !ev.Compile(&Variant{ID: "v1"})(GuardActivation{}) {
		t.Fatalf("absent guard must always pass")
	}
}

func TestValidateGuard(t *testing.T) {
	if err := ValidateGuard(GuardStruggling); err != nil {
		t.Fatalf("template must validate: %v", err)
	}
	if err := ValidateGuard(""); err != nil {
		t.Fatalf("empty guard must validate: %v", err)
	}
	if err := ValidateGuard("session.metrics.accEWMA <"); err == nil {
		t.Fatalf("truncated expression must not validate")
	}
}
