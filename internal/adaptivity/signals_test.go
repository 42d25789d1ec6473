package adaptivity

import (
	"testing"
	"time"
)

func fixedFactory() *SignalFactory {
	return NewSignalFactoryWithClock(func() time.Time { return time.UnixMilli(42_000) })
}

func TestSignalFactoryVariantSelected(t *testing.T) {
	s := NewSnapshot(SnapshotInit{IDs: SessionIDs{UserID: "u1", CourseID: "c1", LessonID: "l1", PageID: "p1"}})
	result := SelectionResult{
		SlotID:    "slot-1",
		VariantID: "A",
		Why: Rationale{
			PolicyVersion: "v1",
			Guards:        map[VariantID]bool{"A": true, "B": true},
			Score:         map[VariantID]float64{"A": 0.53, "B": 0.05},
		},
	}
	sig := fixedFactory().VariantSelected(s, result, []Alternative{{VariantID: "B", Score: 0.05, GuardPassed: true}})
	if sig.Type != SignalVariantSelected {
		t.Fatalf("type=%q", sig.Type)
	}
	if sig.Timestamp != 42_000 {
		t.Fatalf("timestamp=%d", sig.Timestamp)
	}
	if sig.SessionIDs.UserID != "u1" || sig.SessionIDs.LessonID != "l1" {
		t.Fatalf("sessionIds=%+v", sig.SessionIDs)
	}
	if sig.Synced || sig.SyncAttempts != 0 {
		t.Fatalf("new signals start unsynced")
	}
	if sig.Payload["reason"] != "Highest score (0.53) - best match for learner context" {
		t.Fatalf("reason=%v", sig.Payload["reason"])
	}
}

func TestSelectionReason(t *testing.T) {
	cases := []struct {
		name   string
		result SelectionResult
		want   string
	}{
		{
			name:   "override",
			result: SelectionResult{VariantID: "A", Why: Rationale{OverridesUsed: true}},
			want:   "Teacher/system override applied",
		},
		{
			name:   "sticky",
			result: SelectionResult{VariantID: "A", Why: Rationale{StickyUsed: true}},
			want:   "Previous choice retained (sticky)",
		},
		{
			name:   "fallback",
			result: SelectionResult{VariantID: "A", Why: Rationale{Score: map[VariantID]float64{}}},
			want:   "Fallback variant",
		},
		{
			name:   "top_score_differs_from_choice",
			result: SelectionResult{VariantID: "A", Why: Rationale{Score: map[VariantID]float64{"B": 0.9}}},
			want:   "Selected by adaptivity engine",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := selectionReason(tc.result); got != tc.want {
				t.Fatalf("reason=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestSignalBufferCapDropsOldest(t *testing.T) {
	b := NewSignalBuffer(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		b.Push(Signal{ID: id})
	}
	all := b.All()
	if len(all) != 3 || all[0].ID != "b" || all[2].ID != "d" {
		t.Fatalf("buffer=%+v, want b,c,d", all)
	}
}

func TestSignalBufferSyncBookkeeping(t *testing.T) {
	b := NewSignalBuffer(10)
	b.Push(Signal{ID: "a", Type: SignalAnswerSubmitted})
	b.Push(Signal{ID: "b", Type: SignalPageNavigated})
	b.MarkSynced("a")
	b.IncrementSyncAttempt("b")

	unsynced := b.Unsynced()
	if len(unsynced) != 1 || unsynced[0].ID != "b" || unsynced[0].SyncAttempts != 1 {
		t.Fatalf("unsynced=%+v", unsynced)
	}
	sum := b.Summary()
	if sum.Total != 2 || sum.Synced != 1 || sum.Unsynced != 1 {
		t.Fatalf("summary=%+v", sum)
	}
	if sum.ByType[SignalAnswerSubmitted] != 1 {
		t.Fatalf("byType=%+v", sum.ByType)
	}
}
