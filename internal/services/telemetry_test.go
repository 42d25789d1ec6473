package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
)

func telemetryFixture(t *testing.T) (TelemetryService, *fakeState, *fakeSignalRepo) {
	t.Helper()
	state := newFakeState()
	signals := &fakeSignalRepo{}
	factory := adaptivity.NewSignalFactory()
	svc := NewTelemetryService(factory, state, signals, func() int64 { return 42_000 }, testLog(t))
	return svc, state, signals
}

func TestRecordAnswer(t *testing.T) {
	svc, _, signals := telemetryFixture(t)
	userID := uuid.New()

	session, err := svc.RecordAnswer(context.Background(), userID, AnswerEvent{
		CourseID:    "c1",
		LessonID:    "l1",
		PageID:      "p1",
		SlotID:      "slot-a",
		VariantID:   "v1",
		QuestionID:  "q1",
		Correct:     false,
		TimeTakenMs: 2000,
		Attempts:    1,
		Skills:      []adaptivity.SkillID{"fractions"},
	})
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	// One wrong answer blends 0 into the default accEWMA of 1.0.
	want := 0.8*1.0 + 0.2*0.0
	if session.Metrics.AccEWMA != want {
		t.Fatalf("accEWMA = %v, want %v", session.Metrics.AccEWMA, want)
	}
	if session.Metrics.Attempts != 1 || session.Metrics.Streak != 0 {
		t.Fatalf("metrics = %+v", session.Metrics)
	}
	wantLatency := 0.8*1000 + 0.2*2000
	if session.Metrics.LatencyEWMA != wantLatency {
		t.Fatalf("latencyEWMA = %v, want %v", session.Metrics.LatencyEWMA, wantLatency)
	}
	skill := session.PerSkill["fractions"]
	if skill == nil || skill.Attempts != 1 || skill.LastTS != 42_000 {
		t.Fatalf("skill stats = %+v", skill)
	}
	if len(signals.created) != 1 || signals.created[0].Type != adaptivity.SignalAnswerSubmitted {
		t.Fatalf("signals = %+v", signals.created)
	}
}

func TestRecordNavigationResetsIdle(t *testing.T) {
	svc, state, signals := telemetryFixture(t)
	userID := uuid.New()

	if err := svc.RecordIdle(context.Background(), userID, IdleEvent{CourseID: "c1", LessonID: "l1", PageID: "p1", DeltaSec: 30}); err != nil {
		t.Fatalf("RecordIdle: %v", err)
	}
	session := state.sessions[userID.String()+":l1"]
	if session.Metrics.IdleSec != 30 {
		t.Fatalf("idleSec = %v, want 30", session.Metrics.IdleSec)
	}

	err := svc.RecordNavigation(context.Background(), userID, NavigationEvent{
		CourseID:     "c1",
		LessonID:     "l1",
		FromPageID:   "p1",
		ToPageID:     "p2",
		Direction:    "next",
		TimeOnPageMs: 5000,
	})
	if err != nil {
		t.Fatalf("RecordNavigation: %v", err)
	}
	if session.Metrics.IdleSec != 0 {
		t.Fatalf("idleSec after navigation = %v, want 0", session.Metrics.IdleSec)
	}
	if session.IDs.PageID != "p2" {
		t.Fatalf("pageId = %q, want p2", session.IDs.PageID)
	}
	if len(signals.created) != 1 || signals.created[0].Type != adaptivity.SignalPageNavigated {
		t.Fatalf("signals = %+v", signals.created)
	}
}

func TestRecordIdleFloor(t *testing.T) {
	svc, state, _ := telemetryFixture(t)
	userID := uuid.New()

	if err := svc.RecordIdle(context.Background(), userID, IdleEvent{LessonID: "l1", DeltaSec: -5}); err != nil {
		t.Fatalf("RecordIdle: %v", err)
	}
	session := state.sessions[userID.String()+":l1"]
	if session.Metrics.IdleSec != 0 {
		t.Fatalf("idleSec = %v, want 0", session.Metrics.IdleSec)
	}
}

func TestRecordBatch(t *testing.T) {
	svc, _, signals := telemetryFixture(t)
	userID := uuid.New()

	count, err := svc.RecordBatch(context.Background(), userID, []GenericEvent{
		{LessonID: "l1", Type: adaptivity.SignalVariantShown, Payload: map[string]any{"slotId": "s", "variantId": "v"}},
		{LessonID: "l1", Type: adaptivity.SignalUserInteraction, Payload: map[string]any{"action": "hint"}},
	})
	if err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}
	if count != 2 || len(signals.created) != 2 {
		t.Fatalf("count = %d, created = %d", count, len(signals.created))
	}

	t.Run("rejects empty type", func(t *testing.T) {
		if _, err := svc.RecordBatch(context.Background(), userID, []GenericEvent{{LessonID: "l1"}}); err == nil {
			t.Fatal("expected error for empty type")
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		count, err := svc.RecordBatch(context.Background(), userID, nil)
		if err != nil || count != 0 {
			t.Fatalf("count = %d, err = %v", count, err)
		}
	})
}
