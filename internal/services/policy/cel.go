package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/hokkyo/monban/internal/services/marker"
)

// CELEngine evaluates Expression conditions written in CEL against the
// subject, request and args of the current resolution
type CELEngine struct {
	env *cel.Env
}

// NewCELEngine creates a CEL engine with the variables available to
// Expression conditions
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

// ValidateExpression compiles an expression and checks that it yields a
// boolean, without evaluating it
func (e *CELEngine) ValidateExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("CEL expression must return boolean, got: %s", ast.OutputType())
	}
	return nil
}

// Evaluate evaluates an Expression condition. A compile or evaluation
// failure is an error the caller downgrades to indeterminate.
func (e *CELEngine) Evaluate(expression string, rc *marker.RuntimeContext) (Verdict, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return VerdictIndeterminate, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return VerdictIndeterminate, fmt.Errorf("failed to create CEL program: %w", err)
	}

	result, _, err := program.Eval(map[string]interface{}{
		"subject": subjectVars(rc),
		"request": requestVars(rc),
		"args":    nonNilMap(rc.Args),
	})
	if err != nil {
		return VerdictIndeterminate, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return VerdictIndeterminate, fmt.Errorf("CEL expression did not evaluate to boolean, got: %T", result.Value())
	}
	if boolResult {
		return VerdictTrue, nil
	}
	return VerdictFalse, nil
}

func subjectVars(rc *marker.RuntimeContext) map[string]interface{} {
	vars := map[string]interface{}{"authenticated": rc.User != nil}
	if rc.User == nil {
		return vars
	}
	vars["id"] = rc.User.UserID
	vars["login"] = rc.User.Login
	vars["email"] = rc.User.Email
	vars["roles"] = rc.User.Roles
	for k, v := range rc.User.Attributes {
		vars[k] = v
	}
	return vars
}

func requestVars(rc *marker.RuntimeContext) map[string]interface{} {
	vars := nonNilMap(rc.Server)
	if rc.Request != nil {
		vars["method"] = rc.Request.Method
		vars["uri"] = rc.Request.URL.RequestURI()
		vars["host"] = rc.Request.Host
	}
	return vars
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
