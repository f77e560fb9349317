package entities

// MergePreference is the tie-break applied when two settings at the same
// hierarchical level disagree on the same key
type MergePreference string

const (
	// PreferDeny resolves same-level conflicts to the restrictive value (default)
	PreferDeny MergePreference = "deny"
	// PreferAllow resolves same-level conflicts to the permissive value
	PreferAllow MergePreference = "allow"
)

// MergeSettings combines a parent-level permission map with a more specific
// level's map. Keys present in current win key-for-key at every nesting
// level; keys absent from current are retained from incoming.
// The argument order is fixed module-wide: incoming is the value walking
// down from the parent chain, current belongs to the more specific level.
func MergeSettings(incoming, current map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(incoming)+len(current))
	for k, v := range incoming {
		merged[k] = v
	}
	for k, cur := range current {
		inc, exists := merged[k]
		if !exists {
			merged[k] = cur
			continue
		}
		incMap, incIsMap := inc.(map[string]interface{})
		curMap, curIsMap := cur.(map[string]interface{})
		if incIsMap && curIsMap {
			merged[k] = MergeSettings(incMap, curMap)
		} else {
			merged[k] = cur
		}
	}
	return merged
}

// MergeConflicting combines two permission maps that sit at the SAME
// hierarchical level (sibling roles). Keys present in only one side carry
// over; keys present in both resolve via the merge preference.
func MergeConflicting(incoming, current map[string]interface{}, pref MergePreference) map[string]interface{} {
	merged := make(map[string]interface{}, len(incoming)+len(current))
	for k, v := range incoming {
		merged[k] = v
	}
	for k, cur := range current {
		inc, exists := merged[k]
		if !exists {
			merged[k] = cur
			continue
		}
		incMap, incIsMap := inc.(map[string]interface{})
		curMap, curIsMap := cur.(map[string]interface{})
		if incIsMap && curIsMap {
			merged[k] = MergeConflicting(incMap, curMap, pref)
			continue
		}
		merged[k] = pickByPreference(inc, cur, pref)
	}
	return merged
}

func pickByPreference(a, b interface{}, pref MergePreference) interface{} {
	if pref == PreferAllow {
		if !IsRestrictive(a) {
			return a
		}
		return b
	}
	if IsRestrictive(a) {
		return a
	}
	return b
}

// IsRestrictive reports whether a stored permission value asserts a
// restriction. Booleans carry action polarity (true = allow); structured
// values are restrictive when their effect is deny or their enabled flag
// is set (property-style entries such as "hidden").
func IsRestrictive(v interface{}) bool {
	switch value := v.(type) {
	case bool:
		return !value
	case map[string]interface{}:
		if effect, ok := value["effect"].(string); ok {
			return Effect(effect) == EffectDeny
		}
		if enabled, ok := value["enabled"].(bool); ok {
			return enabled
		}
		return false
	case *Permission:
		return value.Effect == EffectDeny
	case Permission:
		return value.Effect == EffectDeny
	default:
		return false
	}
}

// CopySettings returns a deep copy of a permission map so cached effective
// settings cannot be mutated through a returned reference
func CopySettings(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if m, ok := v.(map[string]interface{}); ok {
			out[k] = CopySettings(m)
			continue
		}
		if s, ok := v.([]interface{}); ok {
			out[k] = copySlice(s)
			continue
		}
		out[k] = v
	}
	return out
}

func copySlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		if m, ok := v.(map[string]interface{}); ok {
			out[i] = CopySettings(m)
			continue
		}
		if s, ok := v.([]interface{}); ok {
			out[i] = copySlice(s)
			continue
		}
		out[i] = v
	}
	return out
}
