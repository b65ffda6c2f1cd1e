package match

import (
	"fmt"
	"math"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
)

const (
	// BasePoints is awarded for any correct answer.
	BasePoints = 100
	// BonusRate is extra points per second left on the clock.
	BonusRate = 2.0
	// GraceWindow pads the accepted timeSpent range in seconds, absorbing
	// transport latency on submissions near the limit.
	GraceWindow = 2.0
)

// ValidateSubmission rejects malformed input before any state is touched.
func ValidateSubmission(q domain.Question, selected []string, timeSpent float64) error {
	if len(selected) == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("no options selected"))
	}

	limit := float64(q.TimeLimit)
	if timeSpent < 0 || timeSpent > limit+GraceWindow {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("time spent %.2fs outside [0, %.2fs]", timeSpent, limit+GraceWindow))
	}

	return nil
}

// Score computes correctness and points for a submission against the current
// question. A submission is correct iff the selected set equals the correct
// set exactly; there is no partial credit. The time bonus clamps timeSpent
// into [0, limit] first so grace-window overshoot cannot inflate it.
func Score(q domain.Question, selected []string, timeSpent float64) (isCorrect bool, points int) {
	correct := q.CorrectOptionIDs()

	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}

	if len(chosen) != len(correct) {
		return false, 0
	}
	for id := range chosen {
		if !correct[id] {
			return false, 0
		}
	}

	clamped := math.Min(math.Max(timeSpent, 0), float64(q.TimeLimit))
	bonus := int(math.Floor((float64(q.TimeLimit) - clamped) * BonusRate))
	if bonus < 0 {
		bonus = 0
	}

	return true, BasePoints + bonus
}

// score runs Score with panic recovery. A scoring fault must never block
// match progression: the submission still counts, with zero points.
func (s *Service) score(q domain.Question, selected []string, timeSpent float64) (isCorrect bool, points int) {
	defer func() {
		if r := recover(); r != nil {
			isCorrect, points = false, 0
			s.log.Error("match: scoring fault, recording unscored submission",
				"question", q.QuestionID,
				"error", fmt.Sprintf("%v", r),
			)
		}
	}()

	return Score(q, selected, timeSpent)
}
