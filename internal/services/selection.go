package services

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/repos"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

var selectionTracer = otel.Tracer("adaptivity-backend/selection")

type SelectRequest struct {
	SlotID   adaptivity.SlotID
	CourseID string
	LessonID string
	PageID   string
	Device   adaptivity.Device
	Online   *bool
	Trace    bool
}

// SelectionService runs the decision pipeline against durable session
// state: load session, decide, commit, persist, emit the selection signal.
type SelectionService interface {
	Select(ctx context.Context, userID uuid.UUID, req SelectRequest) (*adaptivity.SelectionResult, error)
}

type selectionService struct {
	engine     *adaptivity.Engine
	factory    *adaptivity.SignalFactory
	catalog    CatalogService
	state      SessionStateService
	signalRepo repos.SignalRepo
	log        *logger.Logger
}

func NewSelectionService(engine *adaptivity.Engine, factory *adaptivity.SignalFactory, catalog CatalogService, state SessionStateService, signalRepo repos.SignalRepo, baseLog *logger.Logger) SelectionService {
	return &selectionService{
		engine:     engine,
		factory:    factory,
		catalog:    catalog,
		state:      state,
		signalRepo: signalRepo,
		log:        baseLog.With("service", "SelectionService"),
	}
}

func (s *selectionService) Select(ctx context.Context, userID uuid.UUID, req SelectRequest) (*adaptivity.SelectionResult, error) {
	ctx, span := selectionTracer.Start(ctx, "selection.select")
	defer span.End()
	span.SetAttributes(
		attribute.String("slot.id", req.SlotID),
		attribute.String("lesson.id", req.LessonID),
	)

	slot, err := s.catalog.GetSlot(req.SlotID)
	if err != nil {
		return nil, err
	}
	policy := s.catalog.Policy()

	session, err := s.state.Get(ctx, userID, SessionContext{
		CourseID: req.CourseID,
		LessonID: req.LessonID,
		PageID:   req.PageID,
		Device:   req.Device,
		Online:   req.Online,
	})
	if err != nil {
		return nil, err
	}

	result, intent, err := s.engine.Decide(slot, session, *policy, adaptivity.SelectOptions{Trace: req.Trace})
	if err != nil {
		return nil, err
	}
	s.engine.Commit(session, intent)
	span.SetAttributes(attribute.String("variant.id", result.VariantID))

	markSeen(session, result.SlotID, result.VariantID)
	if err := s.state.Save(ctx, userID, session); err != nil {
		return nil, err
	}

	sig := s.factory.VariantSelected(session, result, alternatives(slot, result))
	record, err := signalToRecord(sig)
	if err != nil {
		return nil, err
	}
	if _, err := s.signalRepo.Create(ctx, nil, []*types.SignalRecord{record}); err != nil {
		// The decision already happened and was persisted; a lost analytics
		// row is not worth failing the request over.
		s.log.Warn("Failed to enqueue selection signal", "signalId", sig.ID, "error", err)
	}

	s.log.Info("Variant selected",
		"userId", userID,
		"slotId", result.SlotID,
		"variantId", result.VariantID,
		"stickyUsed", result.Why.StickyUsed,
		"overridesUsed", result.Why.OverridesUsed,
	)
	return &result, nil
}

func markSeen(session *adaptivity.SessionSnapshot, slotID adaptivity.SlotID, variantID adaptivity.VariantID) {
	if session.SeenVariants == nil {
		session.SeenVariants = map[adaptivity.SlotID][]adaptivity.VariantID{}
	}
	for _, seen := range session.SeenVariants[slotID] {
		if seen == variantID {
			return
		}
	}
	session.SeenVariants[slotID] = append(session.SeenVariants[slotID], variantID)
}

// alternatives reports how the non-chosen variants fared, using whatever
// the rationale recorded. Without tracing only ids are known.
func alternatives(slot *adaptivity.Slot, result adaptivity.SelectionResult) []adaptivity.Alternative {
	out := make([]adaptivity.Alternative, 0, len(slot.Variants))
	for _, v := range slot.Variants {
		if v.ID == result.VariantID {
			continue
		}
		out = append(out, adaptivity.Alternative{
			VariantID:   v.ID,
			Score:       result.Why.Score[v.ID],
			GuardPassed: result.Why.Guards[v.ID],
		})
	}
	return out
}
