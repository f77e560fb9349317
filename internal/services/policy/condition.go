// Package policy evaluates JSON access-policy documents: statement
// matching, three-valued condition evaluation and effect application.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/services/marker"
)

// Verdict is the three-valued outcome of a condition evaluation.
// Indeterminate means "no decision" and must never be conflated with an
// explicit false.
type Verdict int

const (
	// VerdictIndeterminate means the condition could not be decided
	VerdictIndeterminate Verdict = iota
	// VerdictFalse means the condition evaluated to an explicit false
	VerdictFalse
	// VerdictTrue means the condition was satisfied
	VerdictTrue
)

// String returns a readable verdict name
func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "indeterminate"
	}
}

// OperatorFunc evaluates one operand pair for a condition operator
type OperatorFunc func(left, right interface{}) Verdict

// Logger is the minimal logging facility the evaluator reports skipped
// malformed units through
type Logger interface {
	Printf(format string, v ...interface{})
}

// ConditionEvaluator evaluates parsed Condition blocks against runtime
// context. Unknown operators are looked up in the extension table; a miss
// is logged and yields an indeterminate group.
type ConditionEvaluator struct {
	resolver   *marker.Resolver
	celEngine  *CELEngine
	extensions map[string]OperatorFunc
	logger     Logger
}

// NewConditionEvaluator creates a condition evaluator. The CEL engine may
// be nil when Expression conditions are not used.
func NewConditionEvaluator(resolver *marker.Resolver, celEngine *CELEngine, logger Logger) *ConditionEvaluator {
	return &ConditionEvaluator{
		resolver:   resolver,
		celEngine:  celEngine,
		extensions: make(map[string]OperatorFunc),
		logger:     logger,
	}
}

// RegisterOperator registers an extension condition operator. Built-in
// operators cannot be overridden.
func (c *ConditionEvaluator) RegisterOperator(name string, fn OperatorFunc) error {
	key := strings.ToLower(name)
	if _, ok := builtinOperators[key]; ok {
		return fmt.Errorf("operator %s is built in and cannot be overridden", key)
	}
	c.extensions[key] = fn
	return nil
}

// Evaluate evaluates a full Condition block. Operator groups combine with
// the block's logic (default AND); pairs within a group combine with the
// group's own logic (default OR). Indeterminate propagates: it never
// counts as satisfied and never becomes an explicit false.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, cond *entities.ConditionGroup, rc *marker.RuntimeContext) Verdict {
	if cond == nil {
		return VerdictTrue
	}

	var verdicts []Verdict
	for name, group := range cond.Operators {
		verdicts = append(verdicts, c.evaluateGroup(ctx, name, group, rc))
	}
	if cond.Expression != "" {
		verdicts = append(verdicts, c.evaluateExpression(ctx, cond.Expression, rc))
	}
	if len(verdicts) == 0 {
		return VerdictTrue
	}
	return combine(verdicts, cond.Logic)
}

func (c *ConditionEvaluator) evaluateGroup(ctx context.Context, name string, group entities.OperatorGroup, rc *marker.RuntimeContext) Verdict {
	fn, ok := builtinOperators[name]
	if !ok {
		fn, ok = c.extensions[name]
	}
	if !ok {
		c.logf("skipping unknown condition operator %q", name)
		return VerdictIndeterminate
	}

	verdicts := make([]Verdict, 0, len(group.Pairs))
	for _, pair := range group.Pairs {
		verdicts = append(verdicts, c.evaluatePair(ctx, fn, pair, rc))
	}
	if len(verdicts) == 0 {
		return VerdictIndeterminate
	}
	return combine(verdicts, group.Logic)
}

func (c *ConditionEvaluator) evaluatePair(ctx context.Context, fn OperatorFunc, pair entities.ConditionPair, rc *marker.RuntimeContext) Verdict {
	left, err := c.resolveOperand(ctx, pair.Left, rc)
	if err != nil {
		c.logf("condition operand resolution failed: %v", err)
		return VerdictIndeterminate
	}
	right, err := c.resolveOperand(ctx, pair.Right, rc)
	if err != nil {
		c.logf("condition operand resolution failed: %v", err)
		return VerdictIndeterminate
	}
	if left == nil || right == nil {
		return VerdictIndeterminate
	}
	return fn(left, right)
}

// resolveOperand resolves markers inside string operands; list operands
// resolve element-wise, everything else is literal.
func (c *ConditionEvaluator) resolveOperand(ctx context.Context, operand interface{}, rc *marker.RuntimeContext) (interface{}, error) {
	switch v := operand.(type) {
	case string:
		return c.resolver.Resolve(ctx, v, rc)
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			resolved, err := c.resolveOperand(ctx, item, rc)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
		}
		return out, nil
	default:
		return operand, nil
	}
}

func (c *ConditionEvaluator) evaluateExpression(ctx context.Context, expression string, rc *marker.RuntimeContext) Verdict {
	if c.celEngine == nil {
		c.logf("skipping Expression condition: no CEL engine configured")
		return VerdictIndeterminate
	}
	verdict, err := c.celEngine.Evaluate(expression, rc)
	if err != nil {
		c.logf("Expression condition failed: %v", err)
		return VerdictIndeterminate
	}
	return verdict
}

func (c *ConditionEvaluator) logf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, v...)
	}
}

// combine folds verdicts with AND or OR semantics under three-valued logic
func combine(verdicts []Verdict, logic string) Verdict {
	if strings.EqualFold(logic, "OR") {
		result := VerdictFalse
		for _, v := range verdicts {
			if v == VerdictTrue {
				return VerdictTrue
			}
			if v == VerdictIndeterminate {
				result = VerdictIndeterminate
			}
		}
		return result
	}
	result := VerdictTrue
	for _, v := range verdicts {
		if v == VerdictFalse {
			return VerdictFalse
		}
		if v == VerdictIndeterminate {
			result = VerdictIndeterminate
		}
	}
	return result
}
