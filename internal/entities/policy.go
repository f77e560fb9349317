package entities

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Statement effects. allow/deny set a binary permission; alter, merge and
// replace act on Hook resources' filtered values.
const (
	StatementAllow   = "allow"
	StatementDeny    = "deny"
	StatementAlter   = "alter"
	StatementMerge   = "merge"
	StatementReplace = "replace"
)

// ConditionPair is one left/right operand pair inside an operator group
type ConditionPair struct {
	Left  interface{}
	Right interface{}
}

// OperatorGroup holds the pairs of one condition operator and the logic
// joining them. Pairs within a group are OR'd unless the group carries its
// own "Operator": "AND".
type OperatorGroup struct {
	Logic string // "AND" or "OR" within the group (default OR)
	Pairs []ConditionPair
}

// ConditionGroup is a parsed Condition block. Operator groups combine with
// Logic (default AND).
type ConditionGroup struct {
	Logic      string                   // "AND" or "OR" across operator groups
	Operators  map[string]OperatorGroup // Lower-cased operator name -> group
	Expression string                   // Optional CEL expression condition
}

// UnmarshalJSON parses the condition object shape used in policy documents:
//
//	{"Operator": "AND", "Equals": {"${USER.id}": 7}, "In": {...}}
//
// Each operator value is either an object (every key/value one pair) or an
// array of such objects.
func (c *ConditionGroup) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition must be an object: %w", err)
	}
	c.Logic = "AND"
	c.Operators = make(map[string]OperatorGroup)
	for key, value := range raw {
		switch strings.ToLower(key) {
		case "operator":
			var logic string
			if err := json.Unmarshal(value, &logic); err != nil {
				return fmt.Errorf("condition Operator must be a string: %w", err)
			}
			logic = strings.ToUpper(logic)
			if logic != "AND" && logic != "OR" {
				return fmt.Errorf("condition Operator must be AND or OR, got %q", logic)
			}
			c.Logic = logic
		case "expression":
			var expr string
			if err := json.Unmarshal(value, &expr); err != nil {
				return fmt.Errorf("condition Expression must be a string: %w", err)
			}
			c.Expression = expr
		default:
			group, err := parseOperatorGroup(value)
			if err != nil {
				return fmt.Errorf("condition group %s: %w", key, err)
			}
			c.Operators[strings.ToLower(key)] = group
		}
	}
	return nil
}

func parseOperatorGroup(data json.RawMessage) (OperatorGroup, error) {
	group := OperatorGroup{Logic: "OR"}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		group.Pairs = pairsFromObject(obj, &group.Logic)
		return group, nil
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(data, &list); err != nil {
		return group, fmt.Errorf("operator group must be an object or an array of objects")
	}
	for _, obj := range list {
		group.Pairs = append(group.Pairs, pairsFromObject(obj, &group.Logic)...)
	}
	return group, nil
}

func pairsFromObject(obj map[string]interface{}, logic *string) []ConditionPair {
	pairs := make([]ConditionPair, 0, len(obj))
	for left, right := range obj {
		if strings.EqualFold(left, "operator") {
			if s, ok := right.(string); ok {
				upper := strings.ToUpper(s)
				if upper == "AND" || upper == "OR" {
					*logic = upper
				}
			}
			continue
		}
		pairs = append(pairs, ConditionPair{Left: left, Right: right})
	}
	return pairs
}

// Statement is one ordered entry of a policy document
type Statement struct {
	Effect    string          // One of the Statement* constants
	Resources []string        // Resource references ("Post:post:123", "Url:/x")
	Actions   []string        // Governed actions (empty = the type's default action)
	On        []Area          // Area scoping (empty = all areas)
	Condition *ConditionGroup // Optional condition block
	Response  interface{}     // Payload for alter/merge/replace effects
	Redirect  *Redirect       // Optional redirect attached to a deny
}

// statementJSON mirrors the stored document shape with its flexible
// string-or-array fields.
type statementJSON struct {
	Effect    string          `json:"Effect"`
	Resource  json.RawMessage `json:"Resource"`
	Action    json.RawMessage `json:"Action"`
	On        json.RawMessage `json:"On"`
	Condition *ConditionGroup `json:"Condition"`
	Response  interface{}     `json:"Response"`
	Redirect  interface{}     `json:"Redirect"`
}

// UnmarshalJSON parses one statement, accepting scalar or array forms for
// Resource, Action and On.
func (s *Statement) UnmarshalJSON(data []byte) error {
	var raw statementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	effect := strings.ToLower(raw.Effect)
	switch effect {
	case StatementAllow, StatementDeny, StatementAlter, StatementMerge, StatementReplace:
	case "":
		return fmt.Errorf("statement has no Effect")
	default:
		return fmt.Errorf("unknown statement effect %q", raw.Effect)
	}
	resources, err := stringOrList(raw.Resource)
	if err != nil {
		return fmt.Errorf("statement Resource: %w", err)
	}
	if len(resources) == 0 {
		return fmt.Errorf("statement has no Resource")
	}
	actions, err := stringOrList(raw.Action)
	if err != nil {
		return fmt.Errorf("statement Action: %w", err)
	}
	var areas []Area
	if len(raw.On) > 0 {
		names, err := stringOrList(raw.On)
		if err != nil {
			return fmt.Errorf("statement On: %w", err)
		}
		for _, name := range names {
			switch Area(strings.ToLower(name)) {
			case AreaFrontend, AreaBackend, AreaAPI:
				areas = append(areas, Area(strings.ToLower(name)))
			default:
				return fmt.Errorf("statement On: unknown area %q", name)
			}
		}
	}
	s.Effect = effect
	s.Resources = resources
	s.Actions = actions
	s.On = areas
	s.Condition = raw.Condition
	s.Response = raw.Response
	if raw.Redirect != nil {
		redirect, err := parseRedirect(raw.Redirect)
		if err != nil {
			return fmt.Errorf("statement Redirect: %w", err)
		}
		s.Redirect = redirect
	}
	return nil
}

func stringOrList(data json.RawMessage) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("must be a string or an array of strings")
	}
	return list, nil
}

// Policy is a parsed, versioned access-policy document
type Policy struct {
	ID         string                 // Document identifier assigned by the store
	Version    string                 // Document schema version
	Statements []*Statement           // Ordered statements
	Params     map[string]interface{} // Named parameters for the POLICY_PARAM namespace
}

// policyJSON mirrors the stored document: Statement may be a single object
// or an array, Param may be an object or a [{Key, Value}] list.
type policyJSON struct {
	Version   string          `json:"Version"`
	Statement json.RawMessage `json:"Statement"`
	Param     json.RawMessage `json:"Param"`
}

// UnmarshalJSON parses a policy document body
func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw policyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Version = raw.Version
	p.Statements = nil
	if len(raw.Statement) > 0 {
		var many []*Statement
		if err := json.Unmarshal(raw.Statement, &many); err == nil {
			p.Statements = many
		} else {
			var one Statement
			if err := json.Unmarshal(raw.Statement, &one); err != nil {
				return fmt.Errorf("policy Statement: %w", err)
			}
			p.Statements = []*Statement{&one}
		}
	}
	p.Params = nil
	if len(raw.Param) > 0 {
		params, err := parsePolicyParams(raw.Param)
		if err != nil {
			return fmt.Errorf("policy Param: %w", err)
		}
		p.Params = params
	}
	return nil
}

func parsePolicyParams(data json.RawMessage) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj, nil
	}
	var list []struct {
		Key   string      `json:"Key"`
		Value interface{} `json:"Value"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("must be an object or a [{Key, Value}] array")
	}
	params := make(map[string]interface{}, len(list))
	for _, entry := range list {
		if entry.Key == "" {
			return nil, fmt.Errorf("param entry has no Key")
		}
		params[entry.Key] = entry.Value
	}
	return params, nil
}

// ParsePolicyDocument parses a stored policy document body. Documents are
// human-edited, so comments and trailing commas are tolerated.
func ParsePolicyDocument(id string, body []byte) (*Policy, error) {
	policy := &Policy{}
	if err := json.Unmarshal(jsonc.ToJSON(body), policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy document %s: %w", id, err)
	}
	policy.ID = id
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy document %s: %w", id, err)
	}
	return policy, nil
}

// Validate checks structural invariants of a parsed policy
func (p *Policy) Validate() error {
	for i, stmt := range p.Statements {
		if stmt == nil {
			return fmt.Errorf("statement %d is empty", i)
		}
		if len(stmt.Resources) == 0 {
			return fmt.Errorf("statement %d has no resource reference", i)
		}
	}
	return nil
}
