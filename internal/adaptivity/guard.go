package adaptivity

import (
	"fmt"
	"sync"
)

// GuardEvaluator compiles guard sources into predicates and caches
// compiled string guards by their exact source text, so repeated
// compilation of identical text returns the same predicate instance.
type GuardEvaluator struct {
	mu    sync.Mutex
	cache map[string]GuardFn
}

func NewGuardEvaluator() *GuardEvaluator {
	return &GuardEvaluator{cache: map[string]GuardFn{}}
}

var alwaysTrue GuardFn = func(GuardActivation) bool { return true }

// Compile resolves a variant's guard to a predicate. Precompiled
// predicates pass through untouched and uncached; an absent guard means
// the variant is always eligible. A guard that fails to parse compiles to
// a predicate that always returns false: a broken guard hides a variant,
// it never surfaces an error to the selection call.
func (e *GuardEvaluator) Compile(v *Variant) GuardFn {
	if v != nil && v.GuardFn != nil {
		return v.GuardFn
	}
	src := ""
	if v != nil {
		src = v.Guard
	}
	return e.CompileSource(src)
}

// CompileSource compiles guard expression text, caching by source text.
func (e *GuardEvaluator) CompileSource(src string) GuardFn {
	if src == "" {
		return alwaysTrue
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn, ok := e.cache[src]; ok {
		return fn
	}
	node, err := ParseExpr(src)
	var fn GuardFn
	if err != nil {
		// Fail closed: cache the refusal so the broken text is not
		// re-parsed on every selection.
		fn = func(GuardActivation) bool { return false }
	} else {
		fn = func(a GuardActivation) bool {
			out, err := node.eval(a)
			if err != nil {
				return false
			}
			b, ok := out.(bool)
			return ok && b
		}
	}
	e.cache[src] = fn
	return fn
}

// ValidateGuard parses guard text without evaluating it. Authoring-tool
// convenience only; the engine itself never reports guard errors.
func ValidateGuard(src string) error {
	if src == "" {
		return nil
	}
	if _, err := ParseExpr(src); err != nil {
		return fmt.Errorf("invalid guard: %w", err)
	}
	return nil
}

// Common guard templates for authoring tools.
const (
	GuardLowAccuracy   = "session.metrics.accEWMA < 0.7"
	GuardHighAccuracy  = "session.metrics.accEWMA >= 0.8"
	GuardStruggling    = "session.metrics.attempts > 2 && session.metrics.streak == 0"
	GuardOnStreak      = "session.metrics.streak >= 3"
	GuardMobileOnly    = "session.env.device == 'mobile'"
	GuardDesktopOnly   = "session.env.device == 'desktop'"
	GuardHebrew        = "session.user.lang == 'he'"
	GuardEnglish       = "session.user.lang == 'en'"
	GuardNeedsCaptions = "session.user.a11y.captions == true"
)

// GuardPreferredTheme builds a theme-preference guard for authoring tools.
func GuardPreferredTheme(theme string) string {
	return fmt.Sprintf("session.user.preferences.theme.value == '%s'", theme)
}
