package scoring

import (
	"math"
	"time"
)

// ScoringConfig holds configurable scoring constants.
type ScoringConfig struct {
	BaseScore int // awarded for any correct answer
	MaxScore  int // awarded for an instant correct answer
}

// DefaultScoringConfig returns production defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BaseScore: 500,
		MaxScore:  1000,
	}
}

// Engine computes server-side scores with configurable constants.
type Engine struct {
	config ScoringConfig
}

// NewEngine creates a scoring engine with the provided config.
func NewEngine(config ScoringConfig) *Engine {
	return &Engine{config: config}
}

// CalculateScore computes points for a single answer.
// Formula: base + floor((max - base) * timeFactor)
// - timeFactor: (timeLimit - responseTime) / timeLimit, clamped to [0, 1]
// - incorrect or unanswered: 0
func (e *Engine) CalculateScore(isCorrect bool, responseTime, timeLimit time.Duration) int {
	if !isCorrect {
		return 0
	}

	factor := 1.0
	if timeLimit > 0 {
		factor = float64(timeLimit-responseTime) / float64(timeLimit)
	}
	if factor > 1.0 {
		factor = 1.0
	}
	if factor < 0.0 {
		factor = 0.0
	}

	bonus := math.Floor(float64(e.config.MaxScore-e.config.BaseScore) * factor)
	return e.config.BaseScore + int(bonus)
}

// ClampResponseTime bounds a response time to [0, timeLimit].
func ClampResponseTime(rt, timeLimit time.Duration) time.Duration {
	if rt < 0 {
		return 0
	}
	if timeLimit > 0 && rt > timeLimit {
		return timeLimit
	}
	return rt
}

// FinalPercentage is the persisted per-session score: round(correct/total*100).
func FinalPercentage(correctCount, totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	return int(math.Round(float64(correctCount) / float64(totalQuestions) * 100))
}
