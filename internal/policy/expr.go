package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/ppiankov/trustplane/internal/model"
)

// Expr is a predicate backed by a compiled CEL expression over the
// variable `action` (map with keys kind, cost, attributes).
//
// Evaluation errors count as a match: a deny rule that cannot be decided
// denies. Guard optional attributes with has() or a kind check.
type Expr struct {
	source string
	prg    cel.Program
}

var celEnv = mustCELEnv()

func mustCELEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("policy: create CEL environment: %v", err))
	}
	return env
}

// NewExpr compiles a CEL expression. The expression must yield a bool.
func NewExpr(source string) (*Expr, error) {
	ast, issues := celEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", source, issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q yields %s, want bool", source, out)
	}
	prg, err := celEnv.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", source, err)
	}
	return &Expr{source: source, prg: prg}, nil
}

func (e *Expr) Matches(a model.Action) bool {
	out, _, err := e.prg.Eval(map[string]any{"action": a.ToMap()})
	if err != nil {
		return true
	}
	v, ok := out.Value().(bool)
	if !ok {
		return true
	}
	return v
}

func (e *Expr) String() string {
	return "expr " + e.source
}
