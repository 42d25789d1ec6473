package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/requestdata"
	"github.com/yungbote/adaptivity-backend/internal/services"
)

type TelemetryHandler struct {
	log              *logger.Logger
	telemetryService services.TelemetryService
}

func NewTelemetryHandler(log *logger.Logger, telemetryService services.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{
		log:              log.With("handler", "TelemetryHandler"),
		telemetryService: telemetryService,
	}
}

func (h *TelemetryHandler) Answer(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		CourseID    string   `json:"course_id"`
		LessonID    string   `json:"lesson_id"`
		PageID      string   `json:"page_id"`
		SlotID      string   `json:"slot_id"`
		VariantID   string   `json:"variant_id"`
		QuestionID  string   `json:"question_id"`
		Correct     bool     `json:"correct"`
		TimeTakenMs int64    `json:"time_taken_ms"`
		Attempts    int      `json:"attempts"`
		Answer      any      `json:"answer"`
		Skills      []string `json:"skills"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	session, err := h.telemetryService.RecordAnswer(c.Request.Context(), rd.UserID, services.AnswerEvent{
		CourseID:    req.CourseID,
		LessonID:    req.LessonID,
		PageID:      req.PageID,
		SlotID:      req.SlotID,
		VariantID:   req.VariantID,
		QuestionID:  req.QuestionID,
		Correct:     req.Correct,
		TimeTakenMs: req.TimeTakenMs,
		Attempts:    req.Attempts,
		Answer:      req.Answer,
		Skills:      req.Skills,
	})
	if err != nil {
		h.log.Error("RecordAnswer failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "record_answer_failed", err)
		return
	}
	RespondOK(c, gin.H{"metrics": session.Metrics})
}

func (h *TelemetryHandler) Navigation(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		CourseID     string `json:"course_id"`
		LessonID     string `json:"lesson_id"`
		FromPageID   string `json:"from_page_id"`
		ToPageID     string `json:"to_page_id"`
		Direction    string `json:"direction"`
		TimeOnPageMs int64  `json:"time_on_page_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	err := h.telemetryService.RecordNavigation(c.Request.Context(), rd.UserID, services.NavigationEvent{
		CourseID:     req.CourseID,
		LessonID:     req.LessonID,
		FromPageID:   req.FromPageID,
		ToPageID:     req.ToPageID,
		Direction:    req.Direction,
		TimeOnPageMs: req.TimeOnPageMs,
	})
	if err != nil {
		h.log.Error("RecordNavigation failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "record_navigation_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *TelemetryHandler) Idle(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		CourseID string  `json:"course_id"`
		LessonID string  `json:"lesson_id"`
		PageID   string  `json:"page_id"`
		DeltaSec float64 `json:"delta_sec"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	err := h.telemetryService.RecordIdle(c.Request.Context(), rd.UserID, services.IdleEvent{
		CourseID: req.CourseID,
		LessonID: req.LessonID,
		PageID:   req.PageID,
		DeltaSec: req.DeltaSec,
	})
	if err != nil {
		h.log.Error("RecordIdle failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "record_idle_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *TelemetryHandler) Batch(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		Events []struct {
			CourseID string         `json:"course_id"`
			LessonID string         `json:"lesson_id"`
			PageID   string         `json:"page_id"`
			Type     string         `json:"type"`
			Payload  map[string]any `json:"payload"`
		} `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	events := make([]services.GenericEvent, 0, len(req.Events))
	for _, ev := range req.Events {
		events = append(events, services.GenericEvent{
			CourseID: ev.CourseID,
			LessonID: ev.LessonID,
			PageID:   ev.PageID,
			Type:     ev.Type,
			Payload:  ev.Payload,
		})
	}
	count, err := h.telemetryService.RecordBatch(c.Request.Context(), rd.UserID, events)
	if err != nil {
		h.log.Error("RecordBatch failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "record_batch_failed", err)
		return
	}
	RespondOK(c, gin.H{"accepted": count})
}
