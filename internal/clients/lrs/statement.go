package lrs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
)

// xAPI statement model, trimmed to the fields this service emits.
// https://github.com/adlnet/xAPI-Spec/blob/master/xAPI-Data.md#statement

type Actor struct {
	ObjectType string   `json:"objectType"`
	Name       string   `json:"name,omitempty"`
	Mbox       string   `json:"mbox,omitempty"`
	Account    *Account `json:"account,omitempty"`
}

type Account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

type Verb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display"`
}

type ActivityDefinition struct {
	Name       map[string]string `json:"name,omitempty"`
	Type       string            `json:"type,omitempty"`
	Extensions map[string]any    `json:"extensions,omitempty"`
}

type Object struct {
	ObjectType string              `json:"objectType"`
	ID         string              `json:"id"`
	Definition *ActivityDefinition `json:"definition,omitempty"`
}

type Score struct {
	Scaled float64 `json:"scaled"`
	Raw    float64 `json:"raw"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type Result struct {
	Score      *Score         `json:"score,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	Completion *bool          `json:"completion,omitempty"`
	Response   string         `json:"response,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type ContextActivities struct {
	Grouping []Object `json:"grouping,omitempty"`
}

type Context struct {
	Registration      string             `json:"registration,omitempty"`
	ContextActivities *ContextActivities `json:"contextActivities,omitempty"`
	Platform          string             `json:"platform,omitempty"`
	Language          string             `json:"language,omitempty"`
	Extensions        map[string]any     `json:"extensions,omitempty"`
}

type Statement struct {
	ID        string   `json:"id"`
	Actor     Actor    `json:"actor"`
	Verb      Verb     `json:"verb"`
	Object    Object   `json:"object"`
	Result    *Result  `json:"result,omitempty"`
	Context   *Context `json:"context,omitempty"`
	Timestamp string   `json:"timestamp"`
	Version   string   `json:"version"`
}

const (
	verbAnswered    = "http://adlnet.gov/expapi/verbs/answered"
	verbExperienced = "http://adlnet.gov/expapi/verbs/experienced"
	verbInitialized = "http://adlnet.gov/expapi/verbs/initialized"
	verbTerminated  = "http://adlnet.gov/expapi/verbs/terminated"
)

// StatementConverter maps internal signals to xAPI statements under a
// configurable IRI namespace.
type StatementConverter struct {
	baseIRI  string
	platform string
}

func NewStatementConverter(baseIRI, platform string) *StatementConverter {
	if baseIRI == "" {
		baseIRI = "https://amit.lemida.org/xapi"
	}
	if platform == "" {
		platform = "AMIT Adaptivity Platform"
	}
	return &StatementConverter{baseIRI: strings.TrimRight(baseIRI, "/"), platform: platform}
}

// Convert builds an xAPI statement for the signal. The session snapshot
// supplies actor identity and the context extensions.
func (c *StatementConverter) Convert(sig adaptivity.Signal, session *adaptivity.SessionSnapshot) Statement {
	actor := c.actor(session)
	ts := time.UnixMilli(sig.Timestamp).UTC().Format(time.RFC3339)

	switch sig.Type {
	case adaptivity.SignalVariantSelected:
		return c.variantSelected(sig, actor, ts, session)
	case adaptivity.SignalAnswerSubmitted:
		return c.answerSubmitted(sig, actor, ts, session)
	case adaptivity.SignalPageNavigated:
		return c.pageNavigated(sig, actor, ts, session)
	case adaptivity.SignalSessionStarted:
		return c.sessionLifecycle(sig, actor, ts, session, verbInitialized, "initialized", nil)
	case adaptivity.SignalSessionEnded:
		completed := true
		return c.sessionLifecycle(sig, actor, ts, session, verbTerminated, "terminated", &Result{Completion: &completed})
	default:
		return c.generic(sig, actor, ts, session)
	}
}

func (c *StatementConverter) actor(session *adaptivity.SessionSnapshot) Actor {
	name := session.User.Name
	if name == "" {
		name = session.User.GivenName
	}
	if name == "" {
		name = session.IDs.UserID
	}
	return Actor{
		ObjectType: "Agent",
		Name:       name,
		Account: &Account{
			HomePage: c.baseIRI,
			Name:     session.IDs.UserID,
		},
	}
}

func (c *StatementConverter) ext(key string) string {
	return c.baseIRI + "/extensions/" + key
}

func (c *StatementConverter) variantSelected(sig adaptivity.Signal, actor Actor, ts string, session *adaptivity.SessionSnapshot) Statement {
	variantID, _ := sig.Payload["variantId"].(adaptivity.VariantID)
	if variantID == "" {
		variantID, _ = sig.Payload["variantId"].(string)
	}
	return Statement{
		ID:    uuid.NewString(),
		Actor: actor,
		Verb: Verb{
			ID:      c.baseIRI + "/verbs/selected",
			Display: map[string]string{"en-US": "selected", "he": "נבחר"},
		},
		Object: Object{
			ObjectType: "Activity",
			ID:         fmt.Sprintf("%s/activities/variant/%s", c.baseIRI, variantID),
			Definition: &ActivityDefinition{
				Name: map[string]string{"en-US": "Variant: " + variantID},
				Type: c.baseIRI + "/activity-types/variant",
				Extensions: map[string]any{
					c.ext("slot-id"):      sig.Payload["slotId"],
					c.ext("reason"):       sig.Payload["reason"],
					c.ext("alternatives"): sig.Payload["alternatives"],
				},
			},
		},
		Context:   c.context(session, map[string]any{"slot-id": sig.Payload["slotId"]}),
		Timestamp: ts,
		Version:   "1.0.3",
	}
}

func (c *StatementConverter) answerSubmitted(sig adaptivity.Signal, actor Actor, ts string, session *adaptivity.SessionSnapshot) Statement {
	correct, _ := sig.Payload["correct"].(bool)
	questionID, _ := sig.Payload["questionId"].(string)
	timeTakenMs := asInt64(sig.Payload["timeTakenMs"])
	raw := 0.0
	if correct {
		raw = 1.0
	}
	return Statement{
		ID:    uuid.NewString(),
		Actor: actor,
		Verb: Verb{
			ID:      verbAnswered,
			Display: map[string]string{"en-US": "answered", "he": "ענה"},
		},
		Object: Object{
			ObjectType: "Activity",
			ID:         fmt.Sprintf("%s/activities/question/%s", c.baseIRI, questionID),
			Definition: &ActivityDefinition{
				Name: map[string]string{"en-US": "Question: " + questionID},
				Type: "http://adlnet.gov/expapi/activities/question",
				Extensions: map[string]any{
					c.ext("variant-id"): sig.Payload["variantId"],
					c.ext("slot-id"):    sig.Payload["slotId"],
				},
			},
		},
		Result: &Result{
			Success:  &correct,
			Score:    &Score{Scaled: raw, Raw: raw, Min: 0, Max: 1},
			Response: stringify(sig.Payload["answer"]),
			Duration: formatDuration(timeTakenMs),
			Extensions: map[string]any{
				c.ext("attempts"):      sig.Payload["attempts"],
				c.ext("time-taken-ms"): timeTakenMs,
			},
		},
		Context:   c.context(session, map[string]any{"slot-id": sig.Payload["slotId"], "variant-id": sig.Payload["variantId"]}),
		Timestamp: ts,
		Version:   "1.0.3",
	}
}

func (c *StatementConverter) pageNavigated(sig adaptivity.Signal, actor Actor, ts string, session *adaptivity.SessionSnapshot) Statement {
	toPageID, _ := sig.Payload["toPageId"].(string)
	timeOnPageMs := asInt64(sig.Payload["timeOnPageMs"])
	return Statement{
		ID:    uuid.NewString(),
		Actor: actor,
		Verb: Verb{
			ID:      verbExperienced,
			Display: map[string]string{"en-US": "experienced", "he": "חווה"},
		},
		Object: Object{
			ObjectType: "Activity",
			ID:         fmt.Sprintf("%s/activities/page/%s", c.baseIRI, toPageID),
			Definition: &ActivityDefinition{
				Name: map[string]string{"en-US": "Page: " + toPageID},
				Type: c.baseIRI + "/activity-types/page",
				Extensions: map[string]any{
					c.ext("navigation-direction"): sig.Payload["direction"],
					c.ext("from-page-id"):         sig.Payload["fromPageId"],
					c.ext("time-on-page-ms"):      timeOnPageMs,
				},
			},
		},
		Result:    &Result{Duration: formatDuration(timeOnPageMs)},
		Context:   c.context(session, nil),
		Timestamp: ts,
		Version:   "1.0.3",
	}
}

func (c *StatementConverter) sessionLifecycle(sig adaptivity.Signal, actor Actor, ts string, session *adaptivity.SessionSnapshot, verbIRI, verbName string, result *Result) Statement {
	return Statement{
		ID:    uuid.NewString(),
		Actor: actor,
		Verb: Verb{
			ID:      verbIRI,
			Display: map[string]string{"en-US": verbName},
		},
		Object: Object{
			ObjectType: "Activity",
			ID:         fmt.Sprintf("%s/activities/session/%s", c.baseIRI, session.IDs.LessonID),
			Definition: &ActivityDefinition{
				Name: map[string]string{"en-US": "Learning Session: " + session.IDs.LessonID},
				Type: c.baseIRI + "/activity-types/session",
			},
		},
		Result:    result,
		Context:   c.context(session, nil),
		Timestamp: ts,
		Version:   "1.0.3",
	}
}

func (c *StatementConverter) generic(sig adaptivity.Signal, actor Actor, ts string, session *adaptivity.SessionSnapshot) Statement {
	return Statement{
		ID:    uuid.NewString(),
		Actor: actor,
		Verb: Verb{
			ID:      c.baseIRI + "/verbs/" + sig.Type,
			Display: map[string]string{"en-US": strings.ReplaceAll(sig.Type, "_", " ")},
		},
		Object: Object{
			ObjectType: "Activity",
			ID:         fmt.Sprintf("%s/activities/%s/%s", c.baseIRI, sig.Type, sig.ID),
			Definition: &ActivityDefinition{
				Name: map[string]string{"en-US": "Activity: " + sig.Type},
				Type: c.baseIRI + "/activity-types/" + sig.Type,
				Extensions: map[string]any{
					c.ext("signal-payload"): sig.Payload,
				},
			},
		},
		Context:   c.context(session, nil),
		Timestamp: ts,
		Version:   "1.0.3",
	}
}

func (c *StatementConverter) context(session *adaptivity.SessionSnapshot, extra map[string]any) *Context {
	lang := "en-US"
	if session.User.Lang == "he" {
		lang = "he-IL"
	}
	ext := map[string]any{
		c.ext("user-id"):   session.IDs.UserID,
		c.ext("course-id"): session.IDs.CourseID,
		c.ext("lesson-id"): session.IDs.LessonID,
		c.ext("page-id"):   session.IDs.PageID,
		c.ext("accuracy"):  session.Metrics.AccEWMA,
		c.ext("attempts"):  session.Metrics.Attempts,
		c.ext("streak"):    session.Metrics.Streak,
		c.ext("fatigue"):   session.Metrics.Fatigue,
		c.ext("device"):    session.Env.Device,
	}
	for k, v := range extra {
		ext[c.ext(k)] = v
	}

	grouping := []Object{
		{ObjectType: "Activity", ID: fmt.Sprintf("%s/activities/course/%s", c.baseIRI, session.IDs.CourseID)},
		{ObjectType: "Activity", ID: fmt.Sprintf("%s/activities/lesson/%s", c.baseIRI, session.IDs.LessonID)},
	}
	if session.IDs.TrackID != "" {
		grouping = append(grouping, Object{ObjectType: "Activity", ID: fmt.Sprintf("%s/activities/track/%s", c.baseIRI, session.IDs.TrackID)})
	}

	return &Context{
		Registration:      session.IDs.EnrollmentID,
		Platform:          c.platform,
		Language:          lang,
		Extensions:        ext,
		ContextActivities: &ContextActivities{Grouping: grouping},
	}
}

// formatDuration renders milliseconds as an ISO 8601 duration (PT1M30S).
func formatDuration(ms int64) string {
	total := ms / 1000
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var b strings.Builder
	b.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if seconds > 0 {
		fmt.Fprintf(&b, "%dS", seconds)
	}
	if b.Len() == 2 {
		return "PT0S"
	}
	return b.String()
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
