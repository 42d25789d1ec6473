package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/requestdata"
	"github.com/yungbote/adaptivity-backend/internal/services"
)

type SelectionHandler struct {
	log              *logger.Logger
	selectionService services.SelectionService
}

func NewSelectionHandler(log *logger.Logger, selectionService services.SelectionService) *SelectionHandler {
	return &SelectionHandler{
		log:              log.With("handler", "SelectionHandler"),
		selectionService: selectionService,
	}
}

func (h *SelectionHandler) Select(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		SlotID   string `json:"slot_id"`
		CourseID string `json:"course_id"`
		LessonID string `json:"lesson_id"`
		PageID   string `json:"page_id"`
		Device   string `json:"device"`
		Online   *bool  `json:"online"`
		Trace    bool   `json:"trace"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.SlotID == "" || req.LessonID == "" {
		RespondError(c, http.StatusBadRequest, "missing_fields", errors.New("slot_id and lesson_id are required"))
		return
	}

	result, err := h.selectionService.Select(c.Request.Context(), rd.UserID, services.SelectRequest{
		SlotID:   req.SlotID,
		CourseID: req.CourseID,
		LessonID: req.LessonID,
		PageID:   req.PageID,
		Device:   adaptivity.Device(req.Device),
		Online:   req.Online,
		Trace:    req.Trace,
	})
	if err != nil {
		var noVariants *adaptivity.NoVariantsError
		switch {
		case errors.As(err, &noVariants):
			RespondError(c, http.StatusUnprocessableEntity, "no_variants", err)
		case strings.Contains(err.Error(), "unknown slot"):
			RespondError(c, http.StatusNotFound, "slot_not_found", err)
		default:
			h.log.Error("Select failed", "error", err, "user_id", rd.UserID, "slot_id", req.SlotID)
			RespondError(c, http.StatusInternalServerError, "selection_failed", err)
		}
		return
	}
	RespondOK(c, result)
}
