package resource

import (
	"fmt"
	"strconv"

	"github.com/hokkyo/monban/internal/entities"
)

// Hook governs host filter/action hooks for an access level. Entries are
// keyed "name" or "name:priority". Besides deny (block the hook), an
// entry may alter, merge into or replace the hook's return value.
type Hook struct {
	base
}

func newHookResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	h := &Hook{}
	h.base = base{registry: registry, rtype: entities.ResourceHook, id: resourceID, level: level}
	return h
}

// entryFor finds the stored entry for a hook, preferring the
// priority-qualified key
func (h *Hook) entryFor(name string, priority int) (map[string]interface{}, bool) {
	settings := h.settings()
	if raw, ok := settings[name+":"+strconv.Itoa(priority)]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			return m, true
		}
	}
	if raw, ok := settings[name]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			return m, true
		}
	}
	return nil, false
}

// IsDenied reports whether the hook registration is blocked
func (h *Hook) IsDenied(name string, priority int) bool {
	entry, ok := h.entryFor(name, priority)
	if !ok {
		return false
	}
	effect, _ := entry["effect"].(string)
	return effect == entities.StatementDeny
}

// FilterValue applies the stored effect to a host-supplied filter value.
// alter and replace substitute the stored response; merge appends the
// response to an array value as a union. The second return reports
// whether the value was modified.
func (h *Hook) FilterValue(name string, priority int, value interface{}) (interface{}, bool) {
	entry, ok := h.entryFor(name, priority)
	if !ok {
		return value, false
	}
	effect, _ := entry["effect"].(string)
	response, hasResponse := entry["response"]

	switch effect {
	case entities.StatementAlter, entities.StatementReplace:
		if !hasResponse {
			h.registry.logf("hook %s %s entry has no response", name, effect)
			return value, false
		}
		return response, true
	case entities.StatementMerge:
		if !hasResponse {
			h.registry.logf("hook %s merge entry has no response", name)
			return value, false
		}
		merged, err := mergeArrays(value, response)
		if err != nil {
			h.registry.logf("hook %s merge skipped: %v", name, err)
			return value, false
		}
		return merged, true
	default:
		return value, false
	}
}

// mergeArrays appends the response elements not already present in the
// base array (array union, not replace)
func mergeArrays(value, response interface{}) (interface{}, error) {
	baseList, ok := toList(value)
	if !ok {
		return nil, fmt.Errorf("filtered value is not an array: %T", value)
	}
	addList, ok := toList(response)
	if !ok {
		return nil, fmt.Errorf("merge response is not an array: %T", response)
	}
	merged := make([]interface{}, len(baseList), len(baseList)+len(addList))
	copy(merged, baseList)
	for _, candidate := range addList {
		exists := false
		for _, current := range merged {
			if fmt.Sprintf("%v", current) == fmt.Sprintf("%v", candidate) {
				exists = true
				break
			}
		}
		if !exists {
			merged = append(merged, candidate)
		}
	}
	return merged, nil
}

func toList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, true
	}
	list, ok := v.([]interface{})
	return list, ok
}
