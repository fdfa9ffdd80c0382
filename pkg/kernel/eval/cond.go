package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// EvalBool evaluates a step guard such as `stored.attempts < 3` or
// `login.status_code == 200` with expr-lang. An empty guard is true.
func EvalBool(exprStr string, env map[string]any) (bool, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return true, nil
	}
	program, err := expr.Compile(exprStr, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", exprStr, output, output)
	}
	return result, nil
}

// CheckBool reports whether exprStr parses as a boolean expression without
// knowing the run's values.
func CheckBool(exprStr string) error {
	if strings.TrimSpace(exprStr) == "" {
		return nil
	}
	if _, err := expr.Compile(exprStr, expr.AllowUndefinedVariables()); err != nil {
		return fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	return nil
}

// GuardEnv builds the expression environment for a guard: stored values under
// "stored" and every saved step result under its save_as name.
func GuardEnv(stored, saved map[string]any) map[string]any {
	env := make(map[string]any, len(saved)+1)
	for k, v := range saved {
		env[k] = v
	}
	env[storedPrefix] = stored
	return env
}
