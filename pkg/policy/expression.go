package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

const resultVar = "lookout_result"

// expression is a prepared boolean Rego expression.
type expression struct {
	query rego.PreparedEvalQuery
}

func prepareExpression(ctx context.Context, source string) (*expression, error) {
	query, err := rego.New(
		rego.Query(fmt.Sprintf("%s := (%s)", resultVar, source)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling expression: %w", err)
	}
	return &expression{query: query}, nil
}

// eval returns true only if every result of the expression is true. An
// undefined or non-boolean result is an error.
func (e *expression) eval(ctx context.Context, input map[string]interface{}) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluating expression: %w", err)
	}
	if len(rs) == 0 {
		return false, errors.New("expression is undefined, a referenced field may be missing")
	}
	pass := true
	for _, result := range rs {
		value, ok := result.Bindings[resultVar]
		if !ok {
			return false, errors.New("expression is undefined, a referenced field may be missing")
		}
		b, ok := value.(bool)
		if !ok {
			return false, fmt.Errorf("expression evaluated to %T, expected boolean", value)
		}
		pass = pass && b
	}
	return pass, nil
}
