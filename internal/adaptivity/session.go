package adaptivity

// Snapshot construction and the metric update surface. Updates mutate the
// snapshot in place and have no failure mode for in-range input.

const (
	// DefaultEWMAAlpha is the blend factor for accuracy/latency updates.
	DefaultEWMAAlpha = 0.8

	defaultLatencyEWMA = 1000
	defaultAccEWMA     = 1
	defaultLang        = "he"
)

// LatencyClip bounds a raw latency observation before blending so a single
// outlier cannot distort the trend.
type LatencyClip struct {
	Min float64
	Max float64
}

// DefaultLatencyClip is the standard observation window.
var DefaultLatencyClip = LatencyClip{Min: 300, Max: 8000}

// MetricsInit overrides individual metric defaults. Nil fields keep the
// documented default, mirroring the per-key merge of partial snapshots.
type MetricsInit struct {
	AccEWMA     *float64
	LatencyEWMA *float64
	IdleSec     *float64
	Streak      *int
	Fatigue     *float64
	Affect      *Affect
	Attempts    *int
}

// UserInit overrides user profile defaults.
type UserInit struct {
	Name        string
	GivenName   string
	FamilyName  string
	Lang        string
	A11y        *Accessibility
	Preferences *Preferences
}

// EnvInit overrides environment defaults. Online defaults to true, so it
// is a pointer here to allow an explicit false.
type EnvInit struct {
	Device   Device
	Online   *bool
	NetType  string
	Timezone string
}

// SnapshotInit is the caller-supplied partial state merged over defaults.
type SnapshotInit struct {
	IDs          SessionIDs
	User         *UserInit
	Env          *EnvInit
	Metrics      *MetricsInit
	PerSkill     map[SkillID]*SkillStats
	Sticky       map[SlotID]*StickyRecord
	Overrides    *Overrides
	SeenVariants map[SlotID][]VariantID
	Policy       *PolicyRef
}

// NewSnapshot builds a session snapshot with every field defaulted, then
// merges the provided partial values over those defaults.
func NewSnapshot(init SnapshotInit) *SessionSnapshot {
	s := &SessionSnapshot{
		IDs: init.IDs,
		User: UserProfile{
			Lang:        defaultLang,
			A11y:        &Accessibility{Captions: true, Transcript: false},
			Preferences: &Preferences{},
		},
		Env: Environment{Device: DeviceDesktop, Online: true},
		Metrics: Metrics{
			AccEWMA:     defaultAccEWMA,
			LatencyEWMA: defaultLatencyEWMA,
		},
		PerSkill:     map[SkillID]*SkillStats{},
		Sticky:       map[SlotID]*StickyRecord{},
		SeenVariants: map[SlotID][]VariantID{},
		Policy:       PolicyRef{Version: "dev"},
	}

	if u := init.User; u != nil {
		if u.Name != "" {
			s.User.Name = u.Name
		}
		if u.GivenName != "" {
			s.User.GivenName = u.GivenName
		}
		if u.FamilyName != "" {
			s.User.FamilyName = u.FamilyName
		}
		if u.Lang != "" {
			s.User.Lang = u.Lang
		}
		if u.A11y != nil {
			s.User.A11y = u.A11y
		}
		if u.Preferences != nil {
			s.User.Preferences = u.Preferences
		}
	}
	if e := init.Env; e != nil {
		if e.Device != "" {
			s.Env.Device = e.Device
		}
		if e.Online != nil {
			s.Env.Online = *e.Online
		}
		if e.NetType != "" {
			s.Env.NetType = e.NetType
		}
		if e.Timezone != "" {
			s.Env.Timezone = e.Timezone
		}
	}
	if m := init.Metrics; m != nil {
		if m.AccEWMA != nil {
			s.Metrics.AccEWMA = *m.AccEWMA
		}
		if m.LatencyEWMA != nil {
			s.Metrics.LatencyEWMA = *m.LatencyEWMA
		}
		if m.IdleSec != nil {
			s.Metrics.IdleSec = *m.IdleSec
		}
		if m.Streak != nil {
			s.Metrics.Streak = *m.Streak
		}
		if m.Fatigue != nil {
			s.Metrics.Fatigue = *m.Fatigue
		}
		if m.Affect != nil {
			s.Metrics.Affect = m.Affect
		}
		if m.Attempts != nil {
			s.Metrics.Attempts = *m.Attempts
		}
	}
	if init.PerSkill != nil {
		s.PerSkill = init.PerSkill
	}
	if init.Sticky != nil {
		s.Sticky = init.Sticky
	}
	s.Overrides = init.Overrides
	if init.SeenVariants != nil {
		s.SeenVariants = init.SeenVariants
	}
	if init.Policy != nil {
		s.Policy = *init.Policy
	}
	return s
}

// UpdateAccuracyEWMA blends one correct/incorrect observation into the
// rolling accuracy, advances the streak, and counts the attempt.
func UpdateAccuracyEWMA(s *SessionSnapshot, correct bool, alpha float64) {
	x := 0.0
	if correct {
		x = 1.0
	}
	s.Metrics.AccEWMA = alpha*s.Metrics.AccEWMA + (1-alpha)*x
	if correct {
		s.Metrics.Streak++
	} else {
		s.Metrics.Streak = 0
	}
	s.Metrics.Attempts++
}

// UpdateLatencyEWMA clips the observation into the given window and blends
// it into the rolling latency estimate.
func UpdateLatencyEWMA(s *SessionSnapshot, observedMs, alpha float64, clip LatencyClip) {
	x := observedMs
	if x < clip.Min {
		x = clip.Min
	}
	if x > clip.Max {
		x = clip.Max
	}
	s.Metrics.LatencyEWMA = alpha*s.Metrics.LatencyEWMA + (1-alpha)*x
}

// BumpIdle adjusts the idle counter, flooring at zero for negative deltas.
func BumpIdle(s *SessionSnapshot, deltaSec float64) {
	s.Metrics.IdleSec += deltaSec
	if s.Metrics.IdleSec < 0 {
		s.Metrics.IdleSec = 0
	}
}

// SetPreferenceTheme upserts the theme preference without disturbing the
// other preference slots.
func SetPreferenceTheme(s *SessionSnapshot, theme, source string) {
	if s.User.Preferences == nil {
		s.User.Preferences = &Preferences{}
	}
	s.User.Preferences.Theme = &Preference{Value: theme, Source: source}
}

// UpdateSkill blends one observation into the per-skill stats, creating
// the entry on first use. Not consulted by the selection pipeline.
func UpdateSkill(s *SessionSnapshot, skill SkillID, correct bool, nowMS int64, alpha float64) {
	if s.PerSkill == nil {
		s.PerSkill = map[SkillID]*SkillStats{}
	}
	st, ok := s.PerSkill[skill]
	if !ok {
		st = &SkillStats{AccEWMA: defaultAccEWMA}
		s.PerSkill[skill] = st
	}
	x := 0.0
	if correct {
		x = 1.0
	}
	st.AccEWMA = alpha*st.AccEWMA + (1-alpha)*x
	st.Attempts++
	st.LastTS = nowMS
}
