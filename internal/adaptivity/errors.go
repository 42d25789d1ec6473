package adaptivity

import "fmt"

// NoVariantsError is the only fatal condition in a selection call: a slot
// with zero variants, or a policy denial / empty candidate set with no
// usable fallback. It indicates a misconfigured slot, not a transient
// failure, so callers should not retry.
type NoVariantsError struct {
	SlotID SlotID
}

func (e *NoVariantsError) Error() string {
	return fmt.Sprintf("no eligible variant for slot %q", e.SlotID)
}
