package scoring

import "math"

/*
Env is what a scoring formula can refer to. Formulas are part of the configuration, so once this struct is
fixed, fields should not be renamed, otherwise configured formulas may not compile any more.
*/
type Env struct {
	Accuracy        float64 // 0..100
	MaxScore        float64
	PassedTests     int
	TotalTests      int
	ElapsedSeconds  float64 // since the contest started
	DurationSeconds float64 // of the contest

	Round func(float64) float64
	Floor func(float64) float64
	Max   func(float64, float64) float64
	Min   func(float64, float64) float64
}

func newEnv() Env {
	return Env{
		Round: math.Round,
		Floor: math.Floor,
		Max:   math.Max,
		Min:   math.Min,
	}
}
