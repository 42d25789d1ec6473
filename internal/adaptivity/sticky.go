package adaptivity

// StickyValid reports whether a remembered choice is still honored at the
// given time. Validity is TTL-only: strength and reason are audit fields
// and never affect the check. Expiry is lazy; nothing sweeps old records.
func StickyValid(r *StickyRecord, nowMS int64) bool {
	if r == nil {
		return false
	}
	if r.TTLMS > 0 && r.At+r.TTLMS < nowMS {
		return false
	}
	return true
}

// StickyIntent is the deferred sticky write produced by a decision. The
// caller (or Select) applies it with Engine.Commit, which keeps the
// decision itself pure.
type StickyIntent struct {
	SlotID    SlotID         `json:"slotId"`
	VariantID VariantID      `json:"variantId"`
	Scope     StickyScope    `json:"scope"`
	Strength  StickyStrength `json:"strength"`
	Reason    string         `json:"reason"`
}

// WriteSticky overwrites the slot's remembered choice.
func WriteSticky(s *SessionSnapshot, intent StickyIntent, nowMS int64) {
	if s.Sticky == nil {
		s.Sticky = map[SlotID]*StickyRecord{}
	}
	s.Sticky[intent.SlotID] = &StickyRecord{
		VariantID: intent.VariantID,
		At:        nowMS,
		Scope:     intent.Scope,
		Strength:  intent.Strength,
		Reason:    intent.Reason,
	}
}
