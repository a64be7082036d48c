package discount

import (
	"github.com/go-faster/errors"
	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
)

var hundred = decimal.NewFromInt(100)

// Kind enumerates how an expression rule turns its value into an amount.
type Kind string

const (
	// KindPercentage discounts Value percent of the order total.
	KindPercentage Kind = "percentage"
	// KindFixed discounts a fixed Value, capped at the order total.
	KindFixed Kind = "fixed"
)

// ExpressionDef declares an operator-defined rule.
type ExpressionDef struct {
	Name     string
	Priority int
	// When is a CEL expression over segment (string), total (double),
	// quantity (int) and lines (int). It must evaluate to a bool.
	When  string
	Kind  Kind
	Value decimal.Decimal
}

// ExpressionRule is a rule whose applicability is a compiled CEL program.
type ExpressionRule struct {
	def ExpressionDef
	prg cel.Program
}

var exprEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("segment", cel.StringType),
		cel.Variable("total", cel.DoubleType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("lines", cel.IntType),
	)
	if err != nil {
		panic(err)
	}
	return env
}

// NewExpressionRule compiles def into a rule.
func NewExpressionRule(def ExpressionDef) (*ExpressionRule, error) {
	if def.Name == "" {
		return nil, errors.New("rule name is required")
	}
	switch def.Kind {
	case KindPercentage, KindFixed:
	default:
		return nil, errors.Errorf("rule %q: unsupported kind %q", def.Name, def.Kind)
	}
	if def.Value.IsNegative() {
		return nil, errors.Errorf("rule %q: value must not be negative", def.Name)
	}
	if def.Kind == KindPercentage && def.Value.GreaterThan(hundred) {
		return nil, errors.Errorf("rule %q: percentage above 100", def.Name)
	}

	ast, iss := exprEnv.Compile(def.When)
	if iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "rule %q: compile", def.Name)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("rule %q: expression must be bool, got %s", def.Name, ast.OutputType())
	}
	prg, err := exprEnv.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "rule %q: program", def.Name)
	}

	return &ExpressionRule{def: def, prg: prg}, nil
}

func (r *ExpressionRule) Name() string  { return r.def.Name }
func (r *ExpressionRule) Priority() int { return r.def.Priority }

// Applies evaluates the expression. Evaluation errors count as not applicable.
func (r *ExpressionRule) Applies(c customer.Customer, o Order) bool {
	out, _, err := r.prg.Eval(map[string]any{
		"segment":  c.Segment.String(),
		"total":    o.TotalAmount.InexactFloat64(),
		"quantity": int64(o.TotalQuantity()),
		"lines":    int64(len(o.Items)),
	})
	if err != nil {
		return false
	}
	ok, _ := out.Value().(bool)
	return ok
}

func (r *ExpressionRule) Discount(_ customer.Customer, o Order) decimal.Decimal {
	switch r.def.Kind {
	case KindPercentage:
		return o.TotalAmount.Mul(r.def.Value).Div(hundred)
	case KindFixed:
		return decimal.Min(r.def.Value, o.TotalAmount)
	default:
		return zero
	}
}
