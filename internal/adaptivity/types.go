package adaptivity

// Core contracts for the adaptive variant-selection engine. Everything in
// this package is plain serializable data except the caller-supplied
// predicates (Policy.Allows, Variant.GuardFn), which are never persisted.

type SkillID = string
type SlotID = string
type VariantID = string

type StickyScope string

const (
	ScopeSession StickyScope = "session"
	ScopeLesson  StickyScope = "lesson"
	ScopeCourse  StickyScope = "course"
)

type StickyStrength string

const (
	StickyWeak   StickyStrength = "weak"
	StickyStrong StickyStrength = "strong"
)

// Reasons recorded on sticky records and selection signals.
const (
	ReasonFirstPick         = "first_pick"
	ReasonTeacherChoice     = "teacher_choice"
	ReasonStudentPreference = "student_preference"
	ReasonCopilot           = "copilot"
	ReasonABBucket          = "ab_bucket"
	ReasonRemediationPath   = "remediation_path"
)

// StickyRecord is a remembered choice retained for stability. Strength and
// reason are audit metadata; validity depends only on the TTL.
type StickyRecord struct {
	VariantID VariantID      `json:"variantId"`
	At        int64          `json:"at"` // unix ms
	Scope     StickyScope    `json:"scope"`
	TTLMS     int64          `json:"ttlMs,omitempty"`
	Strength  StickyStrength `json:"strength,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Overrides are live authoritative constraints. They apply before sticky.
type Overrides struct {
	ForceVariant    map[SlotID]VariantID `json:"forceVariant,omitempty"`
	ForceDifficulty string               `json:"forceDifficulty,omitempty"`
	ForceTheme      string               `json:"forceTheme,omitempty"`
	DisableHints    bool                 `json:"disableHints,omitempty"`
	Soft            *SoftOverrides       `json:"soft,omitempty"`
	Source          string               `json:"source,omitempty"` // teacher|policy|copilot|student
	ExpiresAt       int64                `json:"expiresAt,omitempty"`
}

type SoftOverrides struct {
	PreferredTheme string `json:"preferredTheme,omitempty"`
	PreferredTone  string `json:"preferredTone,omitempty"`
}

type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceDesktop Device = "desktop"
	DeviceTablet  Device = "tablet"
)

type AccessibilityMeta struct {
	Captions     bool `json:"captions,omitempty"`
	Transcript   bool `json:"transcript,omitempty"`
	DyslexicFont bool `json:"dyslexicFont,omitempty"`
}

// VariantMeta carries the labels used for cheap eligibility filtering and
// scoring lookups.
type VariantMeta struct {
	Difficulty    string             `json:"difficulty,omitempty"` // easy|std|hard
	Modality      string             `json:"modality,omitempty"`   // video|quiz|reading|interactive|simulation|discussion
	Language      string             `json:"language,omitempty"`
	DurationSec   int                `json:"durationSec,omitempty"`
	Theme         string             `json:"theme,omitempty"`
	CognitiveLoad string             `json:"cognitiveLoad,omitempty"` // low|med|high
	DeviceFit     []Device           `json:"deviceFit,omitempty"`
	Accessibility *AccessibilityMeta `json:"accessibility,omitempty"`
	Skills        []string           `json:"skills,omitempty"`
	KnowledgeTag  string             `json:"knowledgeTag,omitempty"`
	Prerequisites []string           `json:"prerequisites,omitempty"`
	Track         string             `json:"track,omitempty"`
}

type ScoreWeights struct {
	PreferLowAcc     float64            `json:"preferLowAcc,omitempty"`
	PreferThemeMatch float64            `json:"preferThemeMatch,omitempty"`
	PreferModality   map[string]float64 `json:"preferModality,omitempty"`
}

type StickyConfig struct {
	Scope    StickyScope    `json:"scope,omitempty"`
	Strength StickyStrength `json:"strength,omitempty"`
}

// Variant is one candidate piece of content for a slot. Guard holds an
// expression in the guard mini-language; GuardFn, when set, is a
// precompiled predicate that takes precedence over Guard.
type Variant struct {
	ID           VariantID     `json:"id"`
	Meta         VariantMeta   `json:"meta"`
	Guard        string        `json:"guard,omitempty"`
	GuardFn      GuardFn       `json:"-"`
	ScoreWeights *ScoreWeights `json:"scoreWeights,omitempty"`
	Sticky       *StickyConfig `json:"sticky,omitempty"`
}

// Slot groups mutually exclusive variants. A slot with zero variants is
// invalid and fails fast.
type Slot struct {
	ID                SlotID    `json:"id"`
	Variants          []Variant `json:"variants"`
	FallbackVariantID VariantID `json:"fallbackVariantId,omitempty"`
}

type PolicyCaps struct {
	HintPerSession int  `json:"hintPerSession,omitempty"`
	DenyOffline    bool `json:"denyOffline,omitempty"`
}

// Policy is the versioned constraint bundle published by the platform.
// Allows, when set, is a hard constraint evaluated before anything else.
type Policy struct {
	Version string                             `json:"version"`
	Caps    *PolicyCaps                        `json:"caps,omitempty"`
	Hash    string                             `json:"hash,omitempty"`
	Allows  func(*Slot, *SessionSnapshot) bool `json:"-"`
}

type SessionIDs struct {
	UserID       string `json:"userId"`
	CourseID     string `json:"courseId"`
	TrackID      string `json:"trackId,omitempty"`
	LessonID     string `json:"lessonId"`
	PageID       string `json:"pageId"`
	AttemptID    string `json:"attemptId,omitempty"`
	EnrollmentID string `json:"enrollmentId,omitempty"`
}

// Preference is a single preference slot with provenance.
type Preference struct {
	Value      string  `json:"value"`
	Source     string  `json:"source"` // student|system
	Confidence float64 `json:"confidence,omitempty"`
}

type Preferences struct {
	Theme        *Preference `json:"theme,omitempty"`
	Tone         *Preference `json:"tone,omitempty"`
	ModalityBias *Preference `json:"modalityBias,omitempty"`
}

type Accessibility struct {
	Captions     bool    `json:"captions"`
	Transcript   bool    `json:"transcript"`
	DyslexicFont bool    `json:"dyslexicFont,omitempty"`
	FontScale    float64 `json:"fontScale,omitempty"`
	HighContrast bool    `json:"highContrast,omitempty"`
}

type UserProfile struct {
	Name        string         `json:"name,omitempty"`
	GivenName   string         `json:"givenName,omitempty"`
	FamilyName  string         `json:"familyName,omitempty"`
	Lang        string         `json:"lang"`
	A11y        *Accessibility `json:"a11y,omitempty"`
	Preferences *Preferences   `json:"preferences,omitempty"`
}

type Environment struct {
	Device   Device `json:"device"`
	Online   bool   `json:"online"`
	NetType  string `json:"netType,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type Affect struct {
	Frustration float64 `json:"frustration,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Engagement  float64 `json:"engagement,omitempty"`
}

type Metrics struct {
	AccEWMA     float64 `json:"accEWMA"`
	LatencyEWMA float64 `json:"latencyEWMA"`
	IdleSec     float64 `json:"idleSec"`
	Streak      int     `json:"streak"`
	Fatigue     float64 `json:"fatigue"`
	Affect      *Affect `json:"affect,omitempty"`
	Attempts    int     `json:"attempts"`
}

type SkillStats struct {
	AccEWMA       float64 `json:"accEWMA"`
	Attempts      int     `json:"attempts"`
	LastTS        int64   `json:"lastTs"`
	DifficultyGap float64 `json:"difficultyGap,omitempty"`
}

type PolicyRef struct {
	Version string      `json:"version"`
	Caps    *PolicyCaps `json:"caps,omitempty"`
	Hash    string      `json:"hash,omitempty"`
}

type TraceEvent struct {
	Type string         `json:"type"`
	TS   int64          `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// SessionSnapshot is the mutable record of one learner's context for a
// lesson/page. It is owned by the caller and passed by reference; the
// engine's only side effect on it is the sticky commit.
type SessionSnapshot struct {
	IDs          SessionIDs               `json:"ids"`
	User         UserProfile              `json:"user"`
	Env          Environment              `json:"env"`
	Metrics      Metrics                  `json:"metrics"`
	PerSkill     map[SkillID]*SkillStats  `json:"perSkill"`
	Sticky       map[SlotID]*StickyRecord `json:"sticky"`
	Overrides    *Overrides               `json:"overrides,omitempty"`
	SeenVariants map[SlotID][]VariantID   `json:"seenVariants"`
	Policy       PolicyRef                `json:"policy"`
	Trace        []TraceEvent             `json:"trace,omitempty"`
}

// GuardActivation is the evaluation scope of a guard: exactly these three
// values are visible to guard expressions.
type GuardActivation struct {
	Session *SessionSnapshot
	SlotID  SlotID
	Variant *Variant
}

// GuardFn is a compiled guard predicate.
type GuardFn func(GuardActivation) bool

// Rationale is the machine-readable explanation attached to every
// selection. Guards and Score are populated only for variants actually
// evaluated, and only when tracing was requested.
type Rationale struct {
	PolicyVersion string                `json:"policyVersion"`
	Guards        map[VariantID]bool    `json:"guards"`
	Score         map[VariantID]float64 `json:"score"`
	StickyUsed    bool                  `json:"stickyUsed,omitempty"`
	OverridesUsed bool                  `json:"overridesUsed,omitempty"`
}

// SelectionResult is the engine's only output: one variant per slot plus
// the rationale trace.
type SelectionResult struct {
	SlotID    SlotID    `json:"slotId"`
	VariantID VariantID `json:"variantId"`
	Why       Rationale `json:"why"`
}
