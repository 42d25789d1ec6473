package adaptivity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Signal types emitted around the decision pipeline. Signals are buffered
// by the caller and synced to the learning record store by an external
// collaborator; nothing in this package performs I/O.
const (
	SignalVariantSelected   = "variant_selected"
	SignalVariantShown      = "variant_shown"
	SignalUserInteraction   = "user_interaction"
	SignalAnswerSubmitted   = "answer_submitted"
	SignalPageNavigated     = "page_navigated"
	SignalSessionStarted    = "session_started"
	SignalSessionEnded      = "session_ended"
	SignalPreferenceChanged = "preference_changed"
	SignalOverrideApplied   = "override_applied"
	SignalErrorOccurred     = "error_occurred"
)

type SignalIDs struct {
	UserID    string `json:"userId"`
	CourseID  string `json:"courseId"`
	LessonID  string `json:"lessonId"`
	PageID    string `json:"pageId"`
	AttemptID string `json:"attemptId,omitempty"`
}

type Signal struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Timestamp    int64          `json:"timestamp"`
	SessionIDs   SignalIDs      `json:"sessionIds"`
	Payload      map[string]any `json:"payload"`
	Synced       bool           `json:"synced"`
	SyncAttempts int            `json:"syncAttempts"`
}

// Alternative captures how a non-chosen variant fared, for analytics.
type Alternative struct {
	VariantID   VariantID `json:"variantId"`
	Score       float64   `json:"score"`
	GuardPassed bool      `json:"guardPassed"`
}

// SignalFactory builds typed signals. The clock is injectable so signal
// timestamps stay deterministic under test.
type SignalFactory struct {
	now func() time.Time
}

func NewSignalFactory() *SignalFactory {
	return &SignalFactory{now: time.Now}
}

func NewSignalFactoryWithClock(now func() time.Time) *SignalFactory {
	return &SignalFactory{now: now}
}

func (f *SignalFactory) base(s *SessionSnapshot, signalType string) Signal {
	return Signal{
		ID:        "sig_" + uuid.NewString(),
		Type:      signalType,
		Timestamp: f.now().UnixMilli(),
		SessionIDs: SignalIDs{
			UserID:    s.IDs.UserID,
			CourseID:  s.IDs.CourseID,
			LessonID:  s.IDs.LessonID,
			PageID:    s.IDs.PageID,
			AttemptID: s.IDs.AttemptID,
		},
		Payload: map[string]any{},
	}
}

// VariantSelected records a selection decision plus how every alternative
// fared, with a human-readable reason derived from the rationale.
func (f *SignalFactory) VariantSelected(s *SessionSnapshot, result SelectionResult, alternatives []Alternative) Signal {
	sig := f.base(s, SignalVariantSelected)
	sig.Payload = map[string]any{
		"slotId":          result.SlotID,
		"variantId":       result.VariantID,
		"reason":          selectionReason(result),
		"selectionResult": result,
		"alternatives":    alternatives,
	}
	return sig
}

func (f *SignalFactory) AnswerSubmitted(s *SessionSnapshot, slotID SlotID, variantID VariantID, questionID string, correct bool, timeTakenMs int64, attempts int, answer any) Signal {
	sig := f.base(s, SignalAnswerSubmitted)
	sig.Payload = map[string]any{
		"slotId":      slotID,
		"variantId":   variantID,
		"questionId":  questionID,
		"correct":     correct,
		"timeTakenMs": timeTakenMs,
		"attempts":    attempts,
		"answer":      answer,
	}
	return sig
}

func (f *SignalFactory) PageNavigated(s *SessionSnapshot, fromPageID, toPageID, direction string, timeOnPageMs int64) Signal {
	sig := f.base(s, SignalPageNavigated)
	sig.SessionIDs.PageID = toPageID
	sig.Payload = map[string]any{
		"fromPageId":   fromPageID,
		"toPageId":     toPageID,
		"direction":    direction,
		"timeOnPageMs": timeOnPageMs,
	}
	return sig
}

func (f *SignalFactory) Generic(s *SessionSnapshot, signalType string, payload map[string]any) Signal {
	sig := f.base(s, signalType)
	if payload != nil {
		sig.Payload = payload
	}
	return sig
}

func selectionReason(result SelectionResult) string {
	if result.Why.OverridesUsed {
		return "Teacher/system override applied"
	}
	if result.Why.StickyUsed {
		return "Previous choice retained (sticky)"
	}
	if len(result.Why.Score) == 0 {
		return "Fallback variant"
	}
	var topID VariantID
	top := 0.0
	first := true
	for id, sc := range result.Why.Score {
		if first || sc > top {
			topID, top, first = id, sc, false
		}
	}
	if topID == result.VariantID {
		return fmt.Sprintf("Highest score (%.2f) - best match for learner context", top)
	}
	return "Selected by adaptivity engine"
}

// SignalBuffer is a bounded in-memory ring of recent signals. Oldest
// entries are dropped once the cap is reached.
type SignalBuffer struct {
	signals []Signal
	maxSize int
}

func NewSignalBuffer(maxSize int) *SignalBuffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &SignalBuffer{maxSize: maxSize}
}

func (b *SignalBuffer) Push(sig Signal) {
	b.signals = append(b.signals, sig)
	if len(b.signals) > b.maxSize {
		b.signals = b.signals[1:]
	}
}

func (b *SignalBuffer) Unsynced() []Signal {
	var out []Signal
	for _, s := range b.signals {
		if !s.Synced {
			out = append(out, s)
		}
	}
	return out
}

func (b *SignalBuffer) All() []Signal {
	out := make([]Signal, len(b.signals))
	copy(out, b.signals)
	return out
}

func (b *SignalBuffer) MarkSynced(id string) {
	for i := range b.signals {
		if b.signals[i].ID == id {
			b.signals[i].Synced = true
			return
		}
	}
}

func (b *SignalBuffer) IncrementSyncAttempt(id string) {
	for i := range b.signals {
		if b.signals[i].ID == id {
			b.signals[i].SyncAttempts++
			return
		}
	}
}

func (b *SignalBuffer) Clear() {
	b.signals = nil
}

type SignalSummary struct {
	Total    int            `json:"total"`
	Synced   int            `json:"synced"`
	Unsynced int            `json:"unsynced"`
	ByType   map[string]int `json:"byType"`
}

func (b *SignalBuffer) Summary() SignalSummary {
	sum := SignalSummary{ByType: map[string]int{}}
	for _, s := range b.signals {
		sum.Total++
		if s.Synced {
			sum.Synced++
		} else {
			sum.Unsynced++
		}
		sum.ByType[s.Type]++
	}
	return sum
}
