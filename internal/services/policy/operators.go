package policy

import (
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/hokkyo/monban/internal/services/marker"
)

// builtinOperators is the complete operator dispatch table. Names are the
// lower-cased form of the operator keys used in policy documents.
var builtinOperators map[string]OperatorFunc

func init() {
	builtinOperators = map[string]OperatorFunc{
		"equals":          opEquals,
		"notequals":       negate(opEquals),
		"greater":         orderOp(func(c int) bool { return c > 0 }),
		"less":            orderOp(func(c int) bool { return c < 0 }),
		"greaterorequals": orderOp(func(c int) bool { return c >= 0 }),
		"lessorequals":    orderOp(func(c int) bool { return c <= 0 }),
		"between":         opBetween,
		"in":              opIn,
		"notin":           negate(opIn),
		"like":            opLike,
		"notlike":         negate(opLike),
		"regex":           opRegex,
	}
}

// negate flips true and false; indeterminate stays indeterminate
func negate(fn OperatorFunc) OperatorFunc {
	return func(left, right interface{}) Verdict {
		switch fn(left, right) {
		case VerdictTrue:
			return VerdictFalse
		case VerdictFalse:
			return VerdictTrue
		default:
			return VerdictIndeterminate
		}
	}
}

func opEquals(left, right interface{}) Verdict {
	// An (*ip) CIDR cast on either side turns equality into membership.
	if p, ok := left.(*marker.CIDRPredicate); ok {
		return boolVerdict(p.Contains(right))
	}
	if p, ok := right.(*marker.CIDRPredicate); ok {
		return boolVerdict(p.Contains(left))
	}
	eq, ok := looseEqual(left, right)
	if !ok {
		return VerdictIndeterminate
	}
	return boolVerdict(eq)
}

func orderOp(accept func(int) bool) OperatorFunc {
	return func(left, right interface{}) Verdict {
		c, ok := compareOrdered(left, right)
		if !ok {
			return VerdictIndeterminate
		}
		return boolVerdict(accept(c))
	}
}

func opBetween(left, right interface{}) Verdict {
	ranges, ok := betweenRanges(right)
	if !ok {
		return VerdictIndeterminate
	}
	result := VerdictFalse
	for _, r := range ranges {
		lower, okLower := compareOrdered(left, r[0])
		upper, okUpper := compareOrdered(left, r[1])
		if !okLower || !okUpper {
			result = VerdictIndeterminate
			continue
		}
		if lower >= 0 && upper <= 0 {
			return VerdictTrue
		}
	}
	return result
}

// betweenRanges accepts a single [min, max] pair or an array of pairs
func betweenRanges(right interface{}) ([][2]interface{}, bool) {
	list, ok := right.([]interface{})
	if !ok || len(list) == 0 {
		return nil, false
	}
	if _, nested := list[0].([]interface{}); !nested {
		if len(list) != 2 {
			return nil, false
		}
		return [][2]interface{}{{list[0], list[1]}}, true
	}
	ranges := make([][2]interface{}, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, false
		}
		ranges = append(ranges, [2]interface{}{pair[0], pair[1]})
	}
	return ranges, true
}

func opIn(left, right interface{}) Verdict {
	options, ok := right.([]interface{})
	if !ok {
		return VerdictIndeterminate
	}
	// Array-valued left: subset semantics.
	if members, ok := left.([]interface{}); ok {
		for _, member := range members {
			if contains(options, member) != VerdictTrue {
				return VerdictFalse
			}
		}
		return VerdictTrue
	}
	return contains(options, left)
}

func contains(options []interface{}, value interface{}) Verdict {
	result := VerdictFalse
	for _, option := range options {
		if p, ok := option.(*marker.CIDRPredicate); ok {
			if p.Contains(value) {
				return VerdictTrue
			}
			continue
		}
		eq, ok := looseEqual(option, value)
		if !ok {
			result = VerdictIndeterminate
			continue
		}
		if eq {
			return VerdictTrue
		}
	}
	return result
}

func opLike(left, right interface{}) Verdict {
	subject, err := cast.ToStringE(left)
	if err != nil {
		return VerdictIndeterminate
	}
	pattern, err := cast.ToStringE(right)
	if err != nil {
		return VerdictIndeterminate
	}
	re, err := CompileGlob(pattern)
	if err != nil {
		return VerdictIndeterminate
	}
	return boolVerdict(re.MatchString(subject))
}

func opRegex(left, right interface{}) Verdict {
	subject, err := cast.ToStringE(left)
	if err != nil {
		return VerdictIndeterminate
	}
	pattern, err := cast.ToStringE(right)
	if err != nil {
		return VerdictIndeterminate
	}
	re, err := regexp.Compile(normalizeRegex(pattern))
	if err != nil {
		return VerdictIndeterminate
	}
	return boolVerdict(re.MatchString(subject))
}

// CompileGlob translates a shell-glob pattern ("*" wildcard) into an
// anchored, case-insensitive regular expression. The translated pattern
// always matches the full string, never a substring.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	translated := strings.ReplaceAll(quoted, `\*`, ".*")
	return regexp.Compile("(?i)^" + translated + "$")
}

// normalizeRegex strips optional /pattern/flags delimiters from patterns
// written in the source document's native form
func normalizeRegex(pattern string) string {
	if len(pattern) > 2 && pattern[0] == '/' {
		if end := strings.LastIndexByte(pattern, '/'); end > 0 {
			body := pattern[1:end]
			flags := pattern[end+1:]
			if flags == "" {
				return body
			}
			if ok, _ := regexp.MatchString(`^[ims]+$`, flags); ok {
				return "(?" + flags + ")" + body
			}
		}
	}
	return pattern
}

func boolVerdict(b bool) Verdict {
	if b {
		return VerdictTrue
	}
	return VerdictFalse
}

// looseEqual compares two scalars with numeric coercion: "7" equals 7,
// times compare by instant. Returns ok=false when the values cannot be
// brought into a common domain.
func looseEqual(a, b interface{}) (bool, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return false, false
		}
		return ta.Equal(tb), true
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok := toTime(a)
		if !ok {
			return false, false
		}
		return ta.Equal(tb), true
	}
	if aa, ok := a.(netip.Addr); ok {
		ab, ok := toAddr(b)
		if !ok {
			return false, false
		}
		return aa == ab, true
	}
	if ab, ok := b.(netip.Addr); ok {
		aa, ok := toAddr(a)
		if !ok {
			return false, false
		}
		return aa == ab, true
	}
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		return fa == fb, true
	}
	ba, errA := cast.ToBoolE(a)
	bb, errB := cast.ToBoolE(b)
	if errA == nil && errB == nil {
		return ba == bb, true
	}
	sa, errA := cast.ToStringE(a)
	sb, errB := cast.ToStringE(b)
	if errA != nil || errB != nil {
		return false, false
	}
	return sa == sb, true
}

// compareOrdered compares two values that share an ordered domain:
// times, numbers, then strings. Returns ok=false when incomparable.
func compareOrdered(a, b interface{}) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok := toTime(a)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, errA := cast.ToStringE(a)
	sb, errB := cast.ToStringE(b)
	if errA != nil || errB != nil {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toTime(v interface{}) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	casted, err := marker.Cast("date", v)
	if err != nil {
		return time.Time{}, false
	}
	t, ok := casted.(time.Time)
	return t, ok
}

func toAddr(v interface{}) (netip.Addr, bool) {
	if a, ok := v.(netip.Addr); ok {
		return a, true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return netip.Addr{}, false
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
