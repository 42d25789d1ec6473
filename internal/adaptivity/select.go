package adaptivity

import (
	"sort"
	"time"
)

// Engine orchestrates one decision per (slot, session, policy) call:
// policy constraint, overrides, sticky, label pre-filter, guards, scoring,
// fallback, then the sticky commit. Decisions are deterministic for
// identical inputs; the commit is the only side effect.
//
// The engine is synchronous and assumes single-writer access per session
// instance. Callers running concurrent selections for the same session
// must serialize them externally.
type Engine struct {
	guards *GuardEvaluator
	now    func() time.Time
}

type EngineOption func(*Engine)

// WithClock injects the time source used for sticky validity and commits.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithGuardEvaluator shares a guard compilation cache across engines.
func WithGuardEvaluator(ev *GuardEvaluator) EngineOption {
	return func(e *Engine) { e.guards = ev }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		guards: NewGuardEvaluator(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SelectOptions tune a single decision call.
type SelectOptions struct {
	// Trace records per-variant guard results and scores in the rationale.
	Trace bool
	// Guards overrides the engine's evaluator for this call.
	Guards *GuardEvaluator
}

// Decide computes the selection without touching the session. The returned
// intent is nil when a valid sticky record was retained (nothing to
// write); otherwise the caller must Commit it to keep repeated views
// stable.
func (e *Engine) Decide(slot *Slot, session *SessionSnapshot, policy Policy, opts SelectOptions) (SelectionResult, *StickyIntent, error) {
	nowMS := e.now().UnixMilli()
	why := Rationale{
		PolicyVersion: policy.Version,
		Guards:        map[VariantID]bool{},
		Score:         map[VariantID]float64{},
	}

	if len(slot.Variants) == 0 {
		return SelectionResult{}, nil, &NoVariantsError{SlotID: slot.ID}
	}

	// Hard policy constraint beats everything, including overrides.
	if policy.Allows != nil && !policy.Allows(slot, session) {
		fallback := slot.FallbackVariantID
		if fallback == "" {
			fallback = slot.Variants[0].ID
		}
		intent := &StickyIntent{
			SlotID:    slot.ID,
			VariantID: fallback,
			Scope:     ScopeLesson,
			Strength:  StickyWeak,
			Reason:    ReasonFirstPick,
		}
		return SelectionResult{SlotID: slot.ID, VariantID: fallback, Why: why}, intent, nil
	}

	// Administrative override. Expired overrides are ignored.
	if o := session.Overrides; o != nil && (o.ExpiresAt == 0 || o.ExpiresAt >= nowMS) {
		if forced, ok := o.ForceVariant[slot.ID]; ok && forced != "" {
			why.OverridesUsed = true
			intent := &StickyIntent{
				SlotID:    slot.ID,
				VariantID: forced,
				Scope:     ScopeLesson,
				Strength:  StickyStrong,
				Reason:    ReasonTeacherChoice,
			}
			return SelectionResult{SlotID: slot.ID, VariantID: forced, Why: why}, intent, nil
		}
	}

	// Valid sticky record: return the remembered choice without
	// re-evaluating guards or scores, and without rewriting it.
	if rec := session.Sticky[slot.ID]; StickyValid(rec, nowMS) {
		why.StickyUsed = true
		return SelectionResult{SlotID: slot.ID, VariantID: rec.VariantID, Why: why}, nil, nil
	}

	guards := e.guards
	if opts.Guards != nil {
		guards = opts.Guards
	}

	var guarded []*Variant
	for i := range slot.Variants {
		v := &slot.Variants[i]
		if !labelEligible(v, session) {
			continue
		}
		pass := guards.Compile(v)(GuardActivation{Session: session, SlotID: slot.ID, Variant: v})
		if opts.Trace {
			why.Guards[v.ID] = pass
		}
		if pass {
			guarded = append(guarded, v)
		}
	}

	type scored struct {
		v     *Variant
		score float64
	}
	ranked := make([]scored, 0, len(guarded))
	for _, v := range guarded {
		sc := ScoreVariant(v, session)
		if opts.Trace {
			why.Score[v.ID] = sc
		}
		ranked = append(ranked, scored{v: v, score: sc})
	}
	// Stable sort: ties keep declaration order, first-declared wins.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var chosen *Variant
	if len(ranked) > 0 {
		chosen = ranked[0].v
	} else {
		chosen = findVariant(slot, slot.FallbackVariantID)
		if chosen == nil {
			chosen = &slot.Variants[0]
		}
	}

	scope, strength := ScopeLesson, StickyWeak
	if chosen.Sticky != nil {
		if chosen.Sticky.Scope != "" {
			scope = chosen.Sticky.Scope
		}
		if chosen.Sticky.Strength != "" {
			strength = chosen.Sticky.Strength
		}
	}
	intent := &StickyIntent{
		SlotID:    slot.ID,
		VariantID: chosen.ID,
		Scope:     scope,
		Strength:  strength,
		Reason:    ReasonFirstPick,
	}
	return SelectionResult{SlotID: slot.ID, VariantID: chosen.ID, Why: why}, intent, nil
}

// Commit applies the sticky side effect of a decision. Nil intents (sticky
// retained) are a no-op.
func (e *Engine) Commit(session *SessionSnapshot, intent *StickyIntent) {
	if intent == nil {
		return
	}
	WriteSticky(session, *intent, e.now().UnixMilli())
}

// Select is the single-call surface: Decide then Commit.
func (e *Engine) Select(slot *Slot, session *SessionSnapshot, policy Policy, opts SelectOptions) (SelectionResult, error) {
	result, intent, err := e.Decide(slot, session, policy, opts)
	if err != nil {
		return SelectionResult{}, err
	}
	e.Commit(session, intent)
	return result, nil
}

// labelEligible is the cheap metadata filter run before any guard is
// compiled: declared language, device fit, and track tag must not conflict
// with the session.
func labelEligible(v *Variant, s *SessionSnapshot) bool {
	if v.Meta.Language != "" && v.Meta.Language != s.User.Lang {
		return false
	}
	if len(v.Meta.DeviceFit) > 0 && !deviceFits(v.Meta.DeviceFit, s.Env.Device) {
		return false
	}
	if v.Meta.Track != "" && s.IDs.TrackID != "" && v.Meta.Track != s.IDs.TrackID {
		return false
	}
	return true
}

func findVariant(slot *Slot, id VariantID) *Variant {
	if id == "" {
		return nil
	}
	for i := range slot.Variants {
		if slot.Variants[i].ID == id {
			return &slot.Variants[i]
		}
	}
	return nil
}
