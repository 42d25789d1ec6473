package services

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

// signalToRecord maps an engine signal onto its outbox row.
func signalToRecord(sig adaptivity.Signal) (*types.SignalRecord, error) {
	userID, err := uuid.Parse(sig.SessionIDs.UserID)
	if err != nil {
		return nil, fmt.Errorf("signal %s has invalid user id %q: %w", sig.ID, sig.SessionIDs.UserID, err)
	}
	payload, err := json.Marshal(sig.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode signal %s payload: %w", sig.ID, err)
	}
	return &types.SignalRecord{
		SignalID:  sig.ID,
		Type:      sig.Type,
		UserID:    userID,
		CourseID:  sig.SessionIDs.CourseID,
		LessonID:  sig.SessionIDs.LessonID,
		PageID:    sig.SessionIDs.PageID,
		AttemptID: sig.SessionIDs.AttemptID,
		Timestamp: sig.Timestamp,
		Payload:   payload,
	}, nil
}
