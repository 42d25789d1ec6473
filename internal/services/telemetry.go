package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/repos"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

type AnswerEvent struct {
	CourseID    string
	LessonID    string
	PageID      string
	SlotID      adaptivity.SlotID
	VariantID   adaptivity.VariantID
	QuestionID  string
	Correct     bool
	TimeTakenMs int64
	Attempts    int
	Answer      any
	Skills      []adaptivity.SkillID
}

type NavigationEvent struct {
	CourseID     string
	LessonID     string
	FromPageID   string
	ToPageID     string
	Direction    string
	TimeOnPageMs int64
}

type IdleEvent struct {
	CourseID string
	LessonID string
	PageID   string
	DeltaSec float64
}

type GenericEvent struct {
	CourseID string
	LessonID string
	PageID   string
	Type     string
	Payload  map[string]any
}

// TelemetryService ingests learner activity: it folds observations into
// the session metrics and appends the matching signal to the outbox.
type TelemetryService interface {
	RecordAnswer(ctx context.Context, userID uuid.UUID, ev AnswerEvent) (*adaptivity.SessionSnapshot, error)
	RecordNavigation(ctx context.Context, userID uuid.UUID, ev NavigationEvent) error
	RecordIdle(ctx context.Context, userID uuid.UUID, ev IdleEvent) error
	RecordBatch(ctx context.Context, userID uuid.UUID, events []GenericEvent) (int, error)
}

type telemetryService struct {
	factory    *adaptivity.SignalFactory
	state      SessionStateService
	signalRepo repos.SignalRepo
	nowMS      func() int64
	log        *logger.Logger
}

func NewTelemetryService(factory *adaptivity.SignalFactory, state SessionStateService, signalRepo repos.SignalRepo, nowMS func() int64, baseLog *logger.Logger) TelemetryService {
	return &telemetryService{
		factory:    factory,
		state:      state,
		signalRepo: signalRepo,
		nowMS:      nowMS,
		log:        baseLog.With("service", "TelemetryService"),
	}
}

func (s *telemetryService) RecordAnswer(ctx context.Context, userID uuid.UUID, ev AnswerEvent) (*adaptivity.SessionSnapshot, error) {
	session, err := s.state.Get(ctx, userID, SessionContext{CourseID: ev.CourseID, LessonID: ev.LessonID, PageID: ev.PageID})
	if err != nil {
		return nil, err
	}

	adaptivity.UpdateAccuracyEWMA(session, ev.Correct, adaptivity.DefaultEWMAAlpha)
	if ev.TimeTakenMs > 0 {
		adaptivity.UpdateLatencyEWMA(session, float64(ev.TimeTakenMs), adaptivity.DefaultEWMAAlpha, adaptivity.DefaultLatencyClip)
	}
	now := s.nowMS()
	for _, skill := range ev.Skills {
		adaptivity.UpdateSkill(session, skill, ev.Correct, now, adaptivity.DefaultEWMAAlpha)
	}

	if err := s.state.Save(ctx, userID, session); err != nil {
		return nil, err
	}

	sig := s.factory.AnswerSubmitted(session, ev.SlotID, ev.VariantID, ev.QuestionID, ev.Correct, ev.TimeTakenMs, ev.Attempts, ev.Answer)
	if err := s.enqueue(ctx, sig); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *telemetryService) RecordNavigation(ctx context.Context, userID uuid.UUID, ev NavigationEvent) error {
	session, err := s.state.Get(ctx, userID, SessionContext{CourseID: ev.CourseID, LessonID: ev.LessonID, PageID: ev.ToPageID})
	if err != nil {
		return err
	}
	// Navigating resets the idle counter.
	adaptivity.BumpIdle(session, -session.Metrics.IdleSec)
	session.IDs.PageID = ev.ToPageID
	if err := s.state.Save(ctx, userID, session); err != nil {
		return err
	}

	sig := s.factory.PageNavigated(session, ev.FromPageID, ev.ToPageID, ev.Direction, ev.TimeOnPageMs)
	return s.enqueue(ctx, sig)
}

func (s *telemetryService) RecordIdle(ctx context.Context, userID uuid.UUID, ev IdleEvent) error {
	session, err := s.state.Get(ctx, userID, SessionContext{CourseID: ev.CourseID, LessonID: ev.LessonID, PageID: ev.PageID})
	if err != nil {
		return err
	}
	adaptivity.BumpIdle(session, ev.DeltaSec)
	return s.state.Save(ctx, userID, session)
}

func (s *telemetryService) RecordBatch(ctx context.Context, userID uuid.UUID, events []GenericEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	records := make([]*types.SignalRecord, 0, len(events))
	for _, ev := range events {
		if ev.Type == "" {
			return 0, fmt.Errorf("batch event with empty type")
		}
		session, err := s.state.Get(ctx, userID, SessionContext{CourseID: ev.CourseID, LessonID: ev.LessonID, PageID: ev.PageID})
		if err != nil {
			return 0, err
		}
		record, err := signalToRecord(s.factory.Generic(session, ev.Type, ev.Payload))
		if err != nil {
			return 0, err
		}
		records = append(records, record)
	}
	if _, err := s.signalRepo.Create(ctx, nil, records); err != nil {
		return 0, fmt.Errorf("enqueue signal batch: %w", err)
	}
	return len(records), nil
}

func (s *telemetryService) enqueue(ctx context.Context, sig adaptivity.Signal) error {
	record, err := signalToRecord(sig)
	if err != nil {
		return err
	}
	if _, err := s.signalRepo.Create(ctx, nil, []*types.SignalRecord{record}); err != nil {
		return fmt.Errorf("enqueue signal: %w", err)
	}
	return nil
}
