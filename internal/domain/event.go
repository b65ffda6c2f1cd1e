package domain

import "time"

const EventNameMatchCompleted = "match.completed"

// EventMatchCompleted is published once a match reaches COMPLETED, after the
// final state is persisted. The history sink consumes it.
type EventMatchCompleted struct {
	MatchID        string
	QuizID         string
	Results        []PlayerResult
	WinnerID       string
	TotalQuestions int
	CompletedAt    time.Time
}

func (EventMatchCompleted) Name() string { return EventNameMatchCompleted }
