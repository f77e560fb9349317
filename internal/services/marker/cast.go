package marker

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// CIDRPredicate is the compiled form of an (*ip) cast with a CIDR operand.
// Condition operators treat equality and membership against it as a
// subnet-membership test.
type CIDRPredicate struct {
	Prefix netip.Prefix
}

// Contains reports whether the value parses to an address inside the prefix
func (p *CIDRPredicate) Contains(value interface{}) bool {
	s, err := cast.ToStringE(value)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return p.Prefix.Contains(addr.Unmap())
}

// dateLayouts are the accepted (*date) input formats, most specific first
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
}

// Cast coerces a resolved marker value with a (*type) cast name
func Cast(name string, value interface{}) (interface{}, error) {
	if value == nil && name != "null" {
		return nil, nil
	}
	switch name {
	case "string":
		return cast.ToStringE(value)
	case "int":
		v, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v to int: %w", value, err)
		}
		return v, nil
	case "float", "double", "numeric":
		v, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v to float: %w", value, err)
		}
		return v, nil
	case "bool", "boolean":
		v, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v to bool: %w", value, err)
		}
		return v, nil
	case "array":
		return castToArray(value)
	case "date":
		return castToDate(value)
	case "ip":
		return castToIP(value)
	case "null":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown type cast (*%s)", name)
	}
}

func castToArray(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var parsed []interface{}
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				return parsed, nil
			}
		}
		parts := strings.Split(v, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	default:
		out, err := cast.ToSliceE(value)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v to array: %w", value, err)
		}
		return out, nil
	}
}

func castToDate(value interface{}) (interface{}, error) {
	if t, ok := value.(time.Time); ok {
		return t.UTC(), nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v to date: %w", value, err)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("invalid date format %q", s)
}

func castToIP(value interface{}) (interface{}, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %v to ip: %w", value, err)
	}
	if strings.ContainsRune(s, '/') {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", s, err)
		}
		return &CIDRPredicate{Prefix: prefix.Masked()}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid IP address %q: %w", s, err)
	}
	return addr.Unmap(), nil
}
