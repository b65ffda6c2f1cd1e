package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Capacity is the fixed number of players in a duel.
const Capacity = 2

type MatchStatus string

const (
	StatusWaiting    MatchStatus = "WAITING"
	StatusInProgress MatchStatus = "IN_PROGRESS"
	StatusCompleted  MatchStatus = "COMPLETED"
)

type Question struct {
	QuestionID string
	Text       string
	Options    []Option
	// TimeLimit is the answer window in seconds.
	TimeLimit int
}

type Option struct {
	OptionID string
	Text     string
	Correct  bool
}

// CorrectOptionIDs returns the set of option ids flagged correct.
func (q Question) CorrectOptionIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, o := range q.Options {
		if o.Correct {
			ids[o.OptionID] = true
		}
	}
	return ids
}

// AnswerRecord is one scored (or recorded-but-unscored) submission.
type AnswerRecord struct {
	QuestionID      string
	SelectedOptions []string
	IsCorrect       bool
	TimeSpent       float64
	Points          int
	SubmitTime      time.Time
}

// Player is one participant's progress within a session.
type Player struct {
	UserID   string
	Username string
	// SocketID is the current transport handle, empty while disconnected.
	SocketID  string
	Ready     bool
	Score     int
	Submitted bool
	Answers   []AnswerRecord
}

// Session is the authoritative record of one two-player quiz duel.
// The question list is immutable once set; CurrentIndex only increases and
// Status only moves forward.
type Session struct {
	MatchID   string
	JoinCode  string
	QuizID    string
	Questions []Question

	Status       MatchStatus
	CurrentIndex int
	PresentedAt  time.Time

	// Players maps user id to player state. Order preserves join order and
	// is the authority for iteration.
	Players map[string]*Player
	Order   []string

	CreatedAt   time.Time
	CompletedAt time.Time
}

func (s *Session) Player(userID string) (*Player, bool) {
	p, ok := s.Players[userID]
	return p, ok
}

func (s *Session) AddPlayer(p *Player) {
	if s.Players == nil {
		s.Players = make(map[string]*Player)
	}
	s.Players[p.UserID] = p
	s.Order = append(s.Order, p.UserID)
}

// PlayerList returns players in join order.
func (s *Session) PlayerList() []*Player {
	ps := make([]*Player, 0, len(s.Order))
	for _, id := range s.Order {
		ps = append(ps, s.Players[id])
	}
	return ps
}

func (s *Session) IsFull() bool {
	return len(s.Players) == Capacity
}

func (s *Session) AllReady() bool {
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return len(s.Players) > 0
}

func (s *Session) AllSubmitted() bool {
	for _, p := range s.Players {
		if !p.Submitted {
			return false
		}
	}
	return len(s.Players) > 0
}

// ResetSubmissions clears every player's submission flag. Called exactly
// once per question-index advance, atomically with the advance.
func (s *Session) ResetSubmissions() {
	for _, p := range s.Players {
		p.Submitted = false
	}
}

func (s *Session) CurrentQuestion() (Question, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// PlayerResult is the final aggregate for one player.
type PlayerResult struct {
	UserID         string
	Username       string
	Score          int
	CorrectAnswers int
	TotalTimeSpent float64
	// Accuracy is the percentage of questions answered correctly,
	// rounded to one decimal place.
	Accuracy float64
}

// Results computes final aggregates for every player, in join order.
func (s *Session) Results() []PlayerResult {
	results := make([]PlayerResult, 0, len(s.Order))
	total := len(s.Questions)

	for _, p := range s.PlayerList() {
		r := PlayerResult{
			UserID:   p.UserID,
			Username: p.Username,
			Score:    p.Score,
		}
		for _, a := range p.Answers {
			if a.IsCorrect {
				r.CorrectAnswers++
			}
			r.TotalTimeSpent += a.TimeSpent
		}
		if total > 0 {
			r.Accuracy = decimal.NewFromInt(int64(r.CorrectAnswers)).
				Div(decimal.NewFromInt(int64(total))).
				Mul(decimal.NewFromInt(100)).
				Round(1).
				InexactFloat64()
		}
		results = append(results, r)
	}

	return results
}

// Winner picks the winning user id: highest score, ties broken by lower
// total time spent, then by join order.
func Winner(results []PlayerResult) string {
	if len(results) == 0 {
		return ""
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Score > best.Score || (r.Score == best.Score && r.TotalTimeSpent < best.TotalTimeSpent) {
			best = r
		}
	}
	return best.UserID
}
