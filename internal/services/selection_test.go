package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

type fakeCatalog struct {
	slot   *adaptivity.Slot
	policy *adaptivity.Policy
}

func (f *fakeCatalog) GetSlot(slotID adaptivity.SlotID) (*adaptivity.Slot, error) {
	if f.slot == nil || f.slot.ID != slotID {
		return nil, fmt.Errorf("unknown slot %q", slotID)
	}
	return f.slot, nil
}

func (f *fakeCatalog) Policy() *adaptivity.Policy   { return f.policy }
func (f *fakeCatalog) SlotIDs() []adaptivity.SlotID { return []adaptivity.SlotID{f.slot.ID} }

type fakeState struct {
	sessions map[string]*adaptivity.SessionSnapshot
	saves    int
}

func newFakeState() *fakeState {
	return &fakeState{sessions: map[string]*adaptivity.SessionSnapshot{}}
}

func (f *fakeState) Get(ctx context.Context, userID uuid.UUID, sc SessionContext) (*adaptivity.SessionSnapshot, error) {
	key := userID.String() + ":" + sc.LessonID
	if s, ok := f.sessions[key]; ok {
		applyContext(s, sc)
		return s, nil
	}
	s := adaptivity.NewSnapshot(adaptivity.SnapshotInit{
		IDs: adaptivity.SessionIDs{UserID: userID.String(), CourseID: sc.CourseID, LessonID: sc.LessonID, PageID: sc.PageID},
	})
	f.sessions[key] = s
	return s, nil
}

func (f *fakeState) Save(ctx context.Context, userID uuid.UUID, snapshot *adaptivity.SessionSnapshot) error {
	f.sessions[userID.String()+":"+snapshot.IDs.LessonID] = snapshot
	f.saves++
	return nil
}

func (f *fakeState) PatchTheme(ctx context.Context, userID uuid.UUID, sc SessionContext, theme, source string) (*adaptivity.SessionSnapshot, error) {
	s, err := f.Get(ctx, userID, sc)
	if err != nil {
		return nil, err
	}
	adaptivity.SetPreferenceTheme(s, theme, source)
	return s, nil
}

type fakeSignalRepo struct {
	created []*types.SignalRecord
}

func (f *fakeSignalRepo) Create(ctx context.Context, tx *gorm.DB, signals []*types.SignalRecord) ([]*types.SignalRecord, error) {
	f.created = append(f.created, signals...)
	return signals, nil
}

func (f *fakeSignalRepo) GetUnsynced(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]*types.SignalRecord, error) {
	var out []*types.SignalRecord
	for _, r := range f.created {
		if !r.Synced {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSignalRepo) MarkSynced(ctx context.Context, tx *gorm.DB, signalIDs []string) error {
	for _, id := range signalIDs {
		for _, r := range f.created {
			if r.SignalID == id {
				r.Synced = true
			}
		}
	}
	return nil
}

func (f *fakeSignalRepo) IncrementSyncAttempts(ctx context.Context, tx *gorm.DB, signalIDs []string) error {
	for _, id := range signalIDs {
		for _, r := range f.created {
			if r.SignalID == id {
				r.SyncAttempts++
			}
		}
	}
	return nil
}

func (f *fakeSignalRepo) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	return 0, nil
}

func selectionFixture(t *testing.T) (SelectionService, *fakeState, *fakeSignalRepo) {
	t.Helper()
	slot := &adaptivity.Slot{
		ID: "slot-a",
		Variants: []adaptivity.Variant{
			{
				ID:           "boost",
				Guard:        "session.metrics.accEWMA < 0.7",
				ScoreWeights: &adaptivity.ScoreWeights{PreferLowAcc: 1.0},
			},
			{ID: "plain"},
		},
	}
	catalog := &fakeCatalog{
		slot:   slot,
		policy: &adaptivity.Policy{Version: "v1"},
	}
	state := newFakeState()
	signals := &fakeSignalRepo{}
	clock := func() time.Time { return time.UnixMilli(10_000) }
	engine := adaptivity.NewEngine(adaptivity.WithClock(clock))
	factory := adaptivity.NewSignalFactoryWithClock(clock)
	svc := NewSelectionService(engine, factory, catalog, state, signals, testLog(t))
	return svc, state, signals
}

func TestSelectionService(t *testing.T) {
	userID := uuid.New()
	req := SelectRequest{SlotID: "slot-a", CourseID: "c1", LessonID: "l1", PageID: "p1", Trace: true}

	t.Run("persists sticky and emits signal", func(t *testing.T) {
		svc, state, signals := selectionFixture(t)

		result, err := svc.Select(context.Background(), userID, req)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if result.VariantID != "plain" {
			// accEWMA defaults to 1.0, so the low-accuracy guard fails.
			t.Fatalf("variant = %q, want plain", result.VariantID)
		}
		session := state.sessions[userID.String()+":l1"]
		rec := session.Sticky["slot-a"]
		if rec == nil || rec.VariantID != "plain" {
			t.Fatalf("sticky record = %+v", rec)
		}
		if len(signals.created) != 1 {
			t.Fatalf("signals created = %d, want 1", len(signals.created))
		}
		sig := signals.created[0]
		if sig.Type != adaptivity.SignalVariantSelected || sig.LessonID != "l1" {
			t.Fatalf("unexpected signal %+v", sig)
		}
		if len(session.SeenVariants["slot-a"]) != 1 {
			t.Fatalf("seen variants = %v", session.SeenVariants["slot-a"])
		}
	})

	t.Run("second call retains sticky", func(t *testing.T) {
		svc, _, _ := selectionFixture(t)
		first, err := svc.Select(context.Background(), userID, req)
		if err != nil {
			t.Fatalf("first Select: %v", err)
		}
		second, err := svc.Select(context.Background(), userID, req)
		if err != nil {
			t.Fatalf("second Select: %v", err)
		}
		if second.VariantID != first.VariantID {
			t.Fatalf("variant changed: %q then %q", first.VariantID, second.VariantID)
		}
		if !second.Why.StickyUsed {
			t.Fatal("expected stickyUsed on repeat selection")
		}
	})

	t.Run("unknown slot", func(t *testing.T) {
		svc, _, _ := selectionFixture(t)
		bad := req
		bad.SlotID = "nope"
		if _, err := svc.Select(context.Background(), userID, bad); err == nil {
			t.Fatal("expected error for unknown slot")
		}
	})

	t.Run("struggling learner gets the guarded variant", func(t *testing.T) {
		svc, state, _ := selectionFixture(t)
		session, err := state.Get(context.Background(), userID, SessionContext{CourseID: "c1", LessonID: "l1"})
		if err != nil {
			t.Fatalf("seed session: %v", err)
		}
		for i := 0; i < 10; i++ {
			adaptivity.UpdateAccuracyEWMA(session, false, adaptivity.DefaultEWMAAlpha)
		}
		result, err := svc.Select(context.Background(), userID, req)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if result.VariantID != "boost" {
			t.Fatalf("variant = %q, want boost", result.VariantID)
		}
	})
}
