package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/requestdata"
	"github.com/yungbote/adaptivity-backend/internal/services"
)

type SessionHandler struct {
	log          *logger.Logger
	stateService services.SessionStateService
}

func NewSessionHandler(log *logger.Logger, stateService services.SessionStateService) *SessionHandler {
	return &SessionHandler{
		log:          log.With("handler", "SessionHandler"),
		stateService: stateService,
	}
}

func (h *SessionHandler) Get(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	lessonID := c.Param("lessonId")
	if lessonID == "" {
		RespondError(c, http.StatusBadRequest, "missing_fields", errors.New("lessonId is required"))
		return
	}
	snapshot, err := h.stateService.Get(c.Request.Context(), rd.UserID, services.SessionContext{
		CourseID: c.Query("course_id"),
		LessonID: lessonID,
		PageID:   c.Query("page_id"),
	})
	if err != nil {
		h.log.Error("Get session failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "load_session_failed", err)
		return
	}
	RespondOK(c, snapshot)
}

func (h *SessionHandler) PatchPreferences(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	lessonID := c.Param("lessonId")
	var req struct {
		CourseID string `json:"course_id"`
		Theme    string `json:"theme"`
		Source   string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.Theme == "" {
		RespondError(c, http.StatusBadRequest, "missing_fields", errors.New("theme is required"))
		return
	}
	source := req.Source
	if source == "" {
		source = "student"
	}
	snapshot, err := h.stateService.PatchTheme(c.Request.Context(), rd.UserID, services.SessionContext{
		CourseID: req.CourseID,
		LessonID: lessonID,
	}, req.Theme, source)
	if err != nil {
		h.log.Error("Patch session failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "patch_session_failed", err)
		return
	}
	RespondOK(c, gin.H{"preferences": snapshot.User.Preferences})
}
