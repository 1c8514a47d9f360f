// Package scoring computes the score of a graded submission with a configurable expr formula.
package scoring

import (
	"fmt"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/mitchellh/mapstructure"
)

const DefaultFormula = "Round(Accuracy * MaxScore / 100)"

// Input are the facts about one graded submission.
type Input struct {
	PassedTests int
	TotalTests  int
	MaxScore    int64
	Elapsed     time.Duration
	Duration    time.Duration
}

// Formula is a compiled scoring formula.
type Formula struct {
	source  string
	program *vm.Program
}

// Compile compiles the formula, an empty source selects DefaultFormula.
func Compile(source string) (*Formula, error) {
	if source == "" {
		source = DefaultFormula
	}
	program, err := expr.Compile(source, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("invalid scoring formula %q: %w", source, err)
	}
	f := &Formula{source: source, program: program}
	// the formula must produce a number for a typical input
	if _, err := f.Score(Input{PassedTests: 1, TotalTests: 2, MaxScore: 100}); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Formula) String() string {
	return f.source
}

// Accuracy returns the percentage of passed tests.
func Accuracy(passed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

// Score evaluates the formula. Negative results are clamped to 0.
func (f *Formula) Score(in Input) (int64, error) {
	env := newEnv()
	env.Accuracy = Accuracy(in.PassedTests, in.TotalTests)
	env.MaxScore = float64(in.MaxScore)
	env.PassedTests = in.PassedTests
	env.TotalTests = in.TotalTests
	env.ElapsedSeconds = in.Elapsed.Seconds()
	env.DurationSeconds = in.Duration.Seconds()
	res, err := expr.Run(f.program, env)
	if err != nil {
		return 0, fmt.Errorf("could not evaluate scoring formula: %w", err)
	}
	helperMap := map[string]interface{}{"value": res}
	resHelperMap := struct {
		Value int64 `mapstructure:"value"`
	}{}
	if err := mapstructure.WeakDecode(helperMap, &resHelperMap); err != nil {
		return 0, fmt.Errorf("scoring formula returned %v: %w", res, err)
	}
	if resHelperMap.Value < 0 {
		return 0, nil
	}
	return resHelperMap.Value, nil
}
