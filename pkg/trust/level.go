package trust

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MaxScore is the score every session starts with and never exceeds
const MaxScore = 100.0

// Level is a trust classification derived from a session score
type Level uint8

// trust levels, ordered from least to most trusted
const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelFull:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel turns a level name into a Level, ignoring case
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return LevelNone, nil
	case "LOW":
		return LevelLow, nil
	case "MEDIUM":
		return LevelMedium, nil
	case "HIGH":
		return LevelHigh, nil
	case "FULL":
		return LevelFull, nil
	}

	return LevelNone, errors.Wrapf(ErrUnknownLevel, "%q", s)
}

// Thresholds are the lower score bounds of each level above NONE
type Thresholds struct {
	Full   float64 `json:"full" mapstructure:"full"`
	High   float64 `json:"high" mapstructure:"high"`
	Medium float64 `json:"medium" mapstructure:"medium"`
	Low    float64 `json:"low" mapstructure:"low"`
}

// Classify maps a score onto a level
func (t Thresholds) Classify(score float64) Level {
	switch {
	case score >= t.Full:
		return LevelFull
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	case score >= t.Low:
		return LevelLow
	default:
		return LevelNone
	}
}

// Scoring holds every tunable of the trust model
type Scoring struct {
	SuccessReward  float64       `json:"success_reward"`
	FailurePenalty float64       `json:"failure_penalty"`
	AnomalyPenalty float64       `json:"anomaly_penalty"`
	AnomalyLatency time.Duration `json:"anomaly_latency"`
	SessionTTL     time.Duration `json:"session_ttl"`
	Thresholds     Thresholds    `json:"thresholds"`
}

// DefaultScoring returns the stock trust model
func DefaultScoring() Scoring {
	return Scoring{
		SuccessReward:  1.0,
		FailurePenalty: 10.0,
		AnomalyPenalty: 5.0,
		AnomalyLatency: time.Second,
		SessionTTL:     time.Hour,
		Thresholds: Thresholds{
			Full:   80,
			High:   60,
			Medium: 40,
			Low:    20,
		},
	}
}

// Validate checks that the scoring model is self-consistent
func (s Scoring) Validate() error {
	if s.SuccessReward < 0 || s.FailurePenalty < 0 || s.AnomalyPenalty < 0 {
		return errors.Wrap(ErrInvalidScoring, "rewards and penalties must not be negative")
	}

	if s.AnomalyLatency <= 0 {
		return errors.Wrap(ErrInvalidScoring, "anomaly latency must be positive")
	}

	if s.SessionTTL <= 0 {
		return errors.Wrap(ErrInvalidScoring, "session ttl must be positive")
	}

	t := s.Thresholds
	if !(t.Full <= MaxScore && t.Full > t.High && t.High > t.Medium && t.Medium > t.Low && t.Low > 0) {
		return errors.Wrapf(
			ErrInvalidScoring,
			"thresholds must descend within (0, %.0f]: full=%.2f high=%.2f medium=%.2f low=%.2f",
			MaxScore, t.Full, t.High, t.Medium, t.Low,
		)
	}

	return nil
}

// adjust applies one observation to a score
func (s Scoring) adjust(score float64, latency time.Duration, success bool) (float64, bool) {
	if success {
		score = clamp(score + s.SuccessReward)
	} else {
		score = clamp(score - s.FailurePenalty)
	}

	suspicious := latency > s.AnomalyLatency
	if suspicious {
		score = clamp(score - s.AnomalyPenalty)
	}

	return score, suspicious
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}

	if score > MaxScore {
		return MaxScore
	}

	return score
}
