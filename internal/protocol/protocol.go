// Package protocol defines the wire contract between clients and the server,
// and the closed command set passed from the master to execution units.
// Question payloads sent to clients never carry correctness flags.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
)

type CommandName string

const (
	CommandCreateMatch    CommandName = "create_match"
	CommandJoinMatch      CommandName = "join_match"
	CommandConnectToMatch CommandName = "connect_to_match"
	CommandPlayerReady    CommandName = "player_ready"
	CommandSubmitAnswer   CommandName = "submit_answer"
)

type EventName string

const (
	EventMatchConnected     EventName = "match_connected"
	EventMatchJoined        EventName = "match_joined"
	EventPlayerListUpdated  EventName = "player_list_updated"
	EventPlayerReady        EventName = "player_ready"
	EventMatchStarted       EventName = "match_started"
	EventNextQuestion       EventName = "next_question"
	EventQuestionTimeout    EventName = "question_timeout"
	EventAnswerResult       EventName = "answer_result"
	EventOpponentSubmitted  EventName = "opponent_submitted"
	EventWaitingForOpponent EventName = "waiting_for_opponent"
	EventMatchCompleted     EventName = "match_completed"
	EventMatchReconnected   EventName = "match_reconnected"
	EventMatchError         EventName = "match_error"
)

// ClientMessage is the inbound frame: a named command with a JSON payload.
type ClientMessage struct {
	Command CommandName     `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type (
	CreateMatchRequest struct {
		QuizID string `json:"quizId"`
	}

	JoinMatchRequest struct {
		MatchID  string `json:"matchId,omitempty"`
		JoinCode string `json:"joinCode,omitempty"`
	}

	ConnectToMatchRequest struct {
		MatchID string `json:"matchId"`
	}

	SubmitAnswerRequest struct {
		QuestionID      string   `json:"questionId"`
		SelectedOptions []string `json:"selectedOptions"`
		TimeSpent       float64  `json:"timeSpent"`
	}
)

// Command is the closed union routed from the master to an execution unit.
// Name selects the variant; only the fields of that variant are set.
type Command struct {
	Name     CommandName
	SocketID string
	UserID   string
	Username string

	MatchID  string
	JoinCode string
	QuizID   string

	QuestionID      string
	SelectedOptions []string
	TimeSpent       float64
}

// ServerEvent is the outbound frame: a named event with a JSON-serializable
// payload.
type ServerEvent struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

type PlayerInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsReady  bool   `json:"isReady"`
	Score    int    `json:"score"`
}

// QuestionData is the sanitized question view. Correctness never leaves the
// server before the answer is scored.
type QuestionData struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Options   []OptionData `json:"options"`
	TimeLimit int          `json:"timeLimit"`
}

type OptionData struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type AnswerData struct {
	QuestionID      string   `json:"questionId"`
	SelectedOptions []string `json:"selectedOptions"`
	IsCorrect       bool     `json:"isCorrect"`
	TimeSpent       float64  `json:"timeSpent"`
	Points          int      `json:"points"`
}

type (
	MatchConnectedPayload struct {
		MatchID  string             `json:"matchId"`
		JoinCode string             `json:"joinCode,omitempty"`
		Status   domain.MatchStatus `json:"status"`
		Players  []PlayerInfo       `json:"players"`
	}

	PlayerListUpdatedPayload struct {
		Players []PlayerInfo `json:"players"`
	}

	PlayerReadyPayload struct {
		UserID  string `json:"userId"`
		IsReady bool   `json:"isReady"`
	}

	QuestionPayload struct {
		Question       QuestionData `json:"question"`
		QuestionIndex  int          `json:"questionIndex"`
		TotalQuestions int          `json:"totalQuestions"`
	}

	QuestionTimeoutPayload struct {
		Message       string `json:"message"`
		QuestionIndex int    `json:"questionIndex"`
	}

	AnswerResultPayload struct {
		IsCorrect      bool     `json:"isCorrect"`
		Points         int      `json:"points"`
		CorrectOptions []string `json:"correctOptions"`
		TotalScore     int      `json:"totalScore"`
	}

	OpponentSubmittedPayload struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}

	WaitingForOpponentPayload struct {
		Message    string   `json:"message"`
		WaitingFor []string `json:"waitingFor"`
	}

	PlayerResultData struct {
		UserID         string  `json:"userId"`
		Username       string  `json:"username"`
		Score          int     `json:"score"`
		CorrectAnswers int     `json:"correctAnswers"`
		TotalTimeSpent float64 `json:"totalTimeSpent"`
		Accuracy       float64 `json:"accuracy"`
	}

	MatchCompletedPayload struct {
		Results     []PlayerResultData `json:"results"`
		Winner      string             `json:"winner"`
		CompletedAt time.Time          `json:"completedAt"`
	}

	MatchReconnectedPayload struct {
		Status              domain.MatchStatus `json:"status"`
		Players             []PlayerInfo       `json:"players"`
		Question            *QuestionData      `json:"question,omitempty"`
		QuestionIndex       int                `json:"questionIndex"`
		TotalQuestions      int                `json:"totalQuestions"`
		TimeElapsed         float64            `json:"timeElapsed"`
		PlayerScore         int                `json:"playerScore"`
		PlayerAnswers       []AnswerData       `json:"playerAnswers"`
		HasSubmittedCurrent bool               `json:"hasSubmittedCurrent"`
	}

	MatchErrorPayload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
)

// SanitizeQuestion strips correctness flags from a question for delivery.
func SanitizeQuestion(q domain.Question) QuestionData {
	data := QuestionData{
		ID:        q.QuestionID,
		Text:      q.Text,
		Options:   make([]OptionData, 0, len(q.Options)),
		TimeLimit: q.TimeLimit,
	}
	for _, o := range q.Options {
		data.Options = append(data.Options, OptionData{ID: o.OptionID, Text: o.Text})
	}
	return data
}

// Roster converts players (in join order) to their wire view.
func Roster(s *domain.Session) []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(s.Order))
	for _, p := range s.PlayerList() {
		infos = append(infos, PlayerInfo{
			UserID:   p.UserID,
			Username: p.Username,
			IsReady:  p.Ready,
			Score:    p.Score,
		})
	}
	return infos
}

// AnswerHistory converts a player's answer log to its wire view.
func AnswerHistory(p *domain.Player) []AnswerData {
	log := make([]AnswerData, 0, len(p.Answers))
	for _, a := range p.Answers {
		log = append(log, AnswerData{
			QuestionID:      a.QuestionID,
			SelectedOptions: a.SelectedOptions,
			IsCorrect:       a.IsCorrect,
			TimeSpent:       a.TimeSpent,
			Points:          a.Points,
		})
	}
	return log
}

// ResultsPayload converts final aggregates to the match_completed payload.
func ResultsPayload(results []domain.PlayerResult, winner string, completedAt time.Time) MatchCompletedPayload {
	data := make([]PlayerResultData, 0, len(results))
	for _, r := range results {
		data = append(data, PlayerResultData{
			UserID:         r.UserID,
			Username:       r.Username,
			Score:          r.Score,
			CorrectAnswers: r.CorrectAnswers,
			TotalTimeSpent: r.TotalTimeSpent,
			Accuracy:       r.Accuracy,
		})
	}
	return MatchCompletedPayload{Results: data, Winner: winner, CompletedAt: completedAt}
}

// ErrorEvent wraps any error as a match_error event with its stable code.
// Internal detail is never exposed, only the coded message.
func ErrorEvent(err error) ServerEvent {
	e := errors.Convert(err)
	return ServerEvent{
		Event: EventMatchError,
		Data: MatchErrorPayload{
			Error: e.Message,
			Code:  e.WireCode(),
		},
	}
}
