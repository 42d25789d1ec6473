package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	redisclient "github.com/yungbote/adaptivity-backend/internal/clients/redis"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/repos"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

// SessionContext names the lesson/page a request is operating on.
type SessionContext struct {
	CourseID string
	LessonID string
	PageID   string
	Device   adaptivity.Device
	Online   *bool
}

// SessionStateService owns snapshot lifecycle: cache read-through, DB
// persistence, and first-touch initialization.
type SessionStateService interface {
	Get(ctx context.Context, userID uuid.UUID, sc SessionContext) (*adaptivity.SessionSnapshot, error)
	Save(ctx context.Context, userID uuid.UUID, snapshot *adaptivity.SessionSnapshot) error
	PatchTheme(ctx context.Context, userID uuid.UUID, sc SessionContext, theme, source string) (*adaptivity.SessionSnapshot, error)
}

type sessionStateService struct {
	sessionRepo repos.SessionRepo
	userRepo    repos.UserRepo
	cache       *redisclient.SessionCache
	catalog     CatalogService
	log         *logger.Logger
}

func NewSessionStateService(sessionRepo repos.SessionRepo, userRepo repos.UserRepo, cache *redisclient.SessionCache, catalog CatalogService, baseLog *logger.Logger) SessionStateService {
	return &sessionStateService{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		cache:       cache,
		catalog:     catalog,
		log:         baseLog.With("service", "SessionStateService"),
	}
}

func (s *sessionStateService) Get(ctx context.Context, userID uuid.UUID, sc SessionContext) (*adaptivity.SessionSnapshot, error) {
	if s.cache != nil {
		snapshot, err := s.cache.Get(ctx, userID.String(), sc.LessonID)
		if err != nil {
			s.log.Warn("Session cache read failed, falling back to DB", "error", err)
		} else if snapshot != nil {
			applyContext(snapshot, sc)
			return snapshot, nil
		}
	}

	record, err := s.sessionRepo.GetByUserAndLesson(ctx, nil, userID, sc.LessonID)
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if record != nil {
		var snapshot adaptivity.SessionSnapshot
		if err := json.Unmarshal(record.Snapshot, &snapshot); err != nil {
			return nil, fmt.Errorf("decode session snapshot: %w", err)
		}
		applyContext(&snapshot, sc)
		if s.cache != nil {
			if err := s.cache.Put(ctx, userID.String(), sc.LessonID, &snapshot); err != nil {
				s.log.Warn("Session cache write failed", "error", err)
			}
		}
		return &snapshot, nil
	}

	return s.initSnapshot(ctx, userID, sc)
}

func (s *sessionStateService) initSnapshot(ctx context.Context, userID uuid.UUID, sc SessionContext) (*adaptivity.SessionSnapshot, error) {
	init := adaptivity.SnapshotInit{
		IDs: adaptivity.SessionIDs{
			UserID:   userID.String(),
			CourseID: sc.CourseID,
			LessonID: sc.LessonID,
			PageID:   sc.PageID,
		},
	}
	if user, err := s.userRepo.GetByID(ctx, nil, userID); err == nil {
		init.User = &adaptivity.UserInit{
			GivenName:  user.FirstName,
			FamilyName: user.LastName,
			Lang:       user.Lang,
		}
	} else {
		s.log.Warn("User lookup failed, snapshot keeps profile defaults", "userId", userID, "error", err)
	}
	if sc.Device != "" || sc.Online != nil {
		init.Env = &adaptivity.EnvInit{Device: sc.Device, Online: sc.Online}
	}
	policy := s.catalog.Policy()
	init.Policy = &adaptivity.PolicyRef{Version: policy.Version, Caps: policy.Caps, Hash: policy.Hash}

	snapshot := adaptivity.NewSnapshot(init)
	if err := s.Save(ctx, userID, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *sessionStateService) Save(ctx context.Context, userID uuid.UUID, snapshot *adaptivity.SessionSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	record := &types.SessionRecord{
		UserID:        userID,
		CourseID:      snapshot.IDs.CourseID,
		LessonID:      snapshot.IDs.LessonID,
		Snapshot:      raw,
		PolicyVersion: snapshot.Policy.Version,
	}
	if _, err := s.sessionRepo.Upsert(ctx, nil, record); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, userID.String(), snapshot.IDs.LessonID, snapshot); err != nil {
			s.log.Warn("Session cache write failed", "error", err)
		}
	}
	return nil
}

func (s *sessionStateService) PatchTheme(ctx context.Context, userID uuid.UUID, sc SessionContext, theme, source string) (*adaptivity.SessionSnapshot, error) {
	snapshot, err := s.Get(ctx, userID, sc)
	if err != nil {
		return nil, err
	}
	adaptivity.SetPreferenceTheme(snapshot, theme, source)
	if err := s.Save(ctx, userID, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// applyContext refreshes the per-request fields of a persisted snapshot.
// Metrics and sticky state survive; page/device/online reflect the caller.
func applyContext(snapshot *adaptivity.SessionSnapshot, sc SessionContext) {
	if sc.PageID != "" {
		snapshot.IDs.PageID = sc.PageID
	}
	if sc.CourseID != "" {
		snapshot.IDs.CourseID = sc.CourseID
	}
	if sc.Device != "" {
		snapshot.Env.Device = sc.Device
	}
	if sc.Online != nil {
		snapshot.Env.Online = *sc.Online
	}
}
