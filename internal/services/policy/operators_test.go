package policy

import (
	"testing"
	"time"

	"github.com/hokkyo/monban/internal/services/marker"
)

func TestBuiltinOperators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		left     interface{}
		right    interface{}
		want     Verdict
	}{
		{name: "equals numeric coercion", operator: "equals", left: "7", right: 7, want: VerdictTrue},
		{name: "equals strings", operator: "equals", left: "editor", right: "editor", want: VerdictTrue},
		{name: "equals mismatch", operator: "equals", left: "editor", right: "author", want: VerdictFalse},
		{name: "equals bool coercion", operator: "equals", left: "true", right: true, want: VerdictTrue},
		{name: "notequals", operator: "notequals", left: 1, right: 2, want: VerdictTrue},
		{name: "notequals same", operator: "notequals", left: 1, right: 1, want: VerdictFalse},
		{name: "greater", operator: "greater", left: 10, right: 5, want: VerdictTrue},
		{name: "greater equal values", operator: "greater", left: 5, right: 5, want: VerdictFalse},
		{name: "greater string numbers", operator: "greater", left: "10", right: "9", want: VerdictTrue},
		{name: "less", operator: "less", left: 3, right: 5, want: VerdictTrue},
		{name: "greaterorequals boundary", operator: "greaterorequals", left: 5, right: 5, want: VerdictTrue},
		{name: "lessorequals boundary", operator: "lessorequals", left: 5, right: 5, want: VerdictTrue},
		{name: "between inside", operator: "between", left: 5, right: []interface{}{1, 10}, want: VerdictTrue},
		{name: "between boundary", operator: "between", left: 10, right: []interface{}{1, 10}, want: VerdictTrue},
		{name: "between outside", operator: "between", left: 11, right: []interface{}{1, 10}, want: VerdictFalse},
		{name: "between range list", operator: "between", left: 25, right: []interface{}{[]interface{}{1, 10}, []interface{}{20, 30}}, want: VerdictTrue},
		{name: "between malformed", operator: "between", left: 5, right: "1-10", want: VerdictIndeterminate},
		{name: "in", operator: "in", left: "editor", right: []interface{}{"editor", "author"}, want: VerdictTrue},
		{name: "in miss", operator: "in", left: "admin", right: []interface{}{"editor", "author"}, want: VerdictFalse},
		{name: "in subset", operator: "in", left: []interface{}{"a", "b"}, right: []interface{}{"a", "b", "c"}, want: VerdictTrue},
		{name: "in not subset", operator: "in", left: []interface{}{"a", "z"}, right: []interface{}{"a", "b", "c"}, want: VerdictFalse},
		{name: "in non-list right", operator: "in", left: "a", right: "abc", want: VerdictIndeterminate},
		{name: "notin", operator: "notin", left: "admin", right: []interface{}{"editor"}, want: VerdictTrue},
		{name: "like wildcard", operator: "like", left: "alice@example.com", right: "*@example.com", want: VerdictTrue},
		{name: "like case insensitive", operator: "like", left: "Alice@Example.COM", right: "*@example.com", want: VerdictTrue},
		{name: "like full match only", operator: "like", left: "xalice@example.com.y", right: "*@example.com", want: VerdictFalse},
		{name: "notlike", operator: "notlike", left: "bob@other.net", right: "*@example.com", want: VerdictTrue},
		{name: "regex", operator: "regex", left: "post-123", right: `^post-\d+$`, want: VerdictTrue},
		{name: "regex delimited with flags", operator: "regex", left: "HELLO", right: "/hello/i", want: VerdictTrue},
		{name: "regex miss", operator: "regex", left: "page-1", right: `^post-\d+$`, want: VerdictFalse},
		{name: "regex invalid pattern", operator: "regex", left: "x", right: "([", want: VerdictIndeterminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := builtinOperators[tt.operator]
			if !ok {
				t.Fatalf("operator %q not registered", tt.operator)
			}
			if got := fn(tt.left, tt.right); got != tt.want {
				t.Errorf("%s(%v, %v) = %v, want %v", tt.operator, tt.left, tt.right, got, tt.want)
			}
		})
	}
}

func TestOpEquals_CIDR(t *testing.T) {
	pred, err := marker.Cast("ip", "10.0.0.0/8")
	if err != nil {
		t.Fatalf("Cast() error = %v", err)
	}

	if got := opEquals("10.1.2.3", pred); got != VerdictTrue {
		t.Errorf("equals with CIDR right = %v, want true", got)
	}
	if got := opEquals(pred, "10.1.2.3"); got != VerdictTrue {
		t.Errorf("equals with CIDR left = %v, want true", got)
	}
	if got := opEquals("192.168.0.1", pred); got != VerdictFalse {
		t.Errorf("equals outside CIDR = %v, want false", got)
	}
}

func TestOpIn_CIDROption(t *testing.T) {
	pred, err := marker.Cast("ip", "10.0.0.0/8")
	if err != nil {
		t.Fatalf("Cast() error = %v", err)
	}

	options := []interface{}{"192.168.1.1", pred}
	if got := opIn("10.9.9.9", options); got != VerdictTrue {
		t.Errorf("in with CIDR option = %v, want true", got)
	}
	if got := opIn("172.16.0.1", options); got != VerdictFalse {
		t.Errorf("in outside all options = %v, want false", got)
	}
}

func TestCompareOrdered_Times(t *testing.T) {
	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	fn := builtinOperators["less"]
	if got := fn(earlier, "2025-06-01"); got != VerdictTrue {
		t.Errorf("less(time, date string) = %v, want true", got)
	}
	if got := fn("2025-06-01", earlier); got != VerdictFalse {
		t.Errorf("less(later string, time) = %v, want false", got)
	}
}

func TestCompileGlob(t *testing.T) {
	re, err := CompileGlob("/members/*")
	if err != nil {
		t.Fatalf("CompileGlob() error = %v", err)
	}
	if !re.MatchString("/members/archive") {
		t.Error("should match path under wildcard")
	}
	if re.MatchString("/public/members/archive") {
		t.Error("pattern must anchor at the start")
	}
	// Regex metacharacters in the pattern are literal.
	re, err = CompileGlob("price is $10 (approx)")
	if err != nil {
		t.Fatalf("CompileGlob() error = %v", err)
	}
	if !re.MatchString("price is $10 (approx)") {
		t.Error("metacharacters should be quoted")
	}
}
