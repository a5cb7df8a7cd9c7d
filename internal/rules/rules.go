// Package rules compiles and evaluates the optional validation rules applied
// to the item submitted on publish.
package rules

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrRuleFailed is wrapped by Check when a rule evaluates to false or cannot
// be evaluated against the item.
var ErrRuleFailed = errors.New("item rule failed")

// Rule is a compiled boolean expression over the variable "item".
type Rule struct {
	Source  string
	program *vm.Program
}

// Compile validates and compiles a rule. The item is decoded JSON, so field
// access such as item.price is resolved at evaluation time.
func Compile(source string) (*Rule, error) {
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(source,
		expr.Env(map[string]any{"item": map[string]any{}}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}

	return &Rule{Source: source, program: program}, nil
}

// CompileAll compiles every source, failing on the first invalid one.
func CompileAll(sources []string) ([]*Rule, error) {
	out := make([]*Rule, 0, len(sources))
	for _, src := range sources {
		r, err := Compile(src)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", src, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Eval evaluates the rule against item.
func (r *Rule) Eval(item any) (bool, error) {
	if r == nil || r.program == nil {
		return false, fmt.Errorf("nil compiled expression")
	}

	result, err := expr.Run(r.program, map[string]any{"item": item})
	if err != nil {
		return false, fmt.Errorf("expression eval error for %q: %w", r.Source, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", r.Source, result)
	}
	return b, nil
}

// Check runs every rule in order and returns an error wrapping ErrRuleFailed
// for the first rule that does not hold.
func Check(rules []*Rule, item any) error {
	for _, r := range rules {
		ok, err := r.Eval(item)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRuleFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrRuleFailed, r.Source)
		}
	}
	return nil
}
