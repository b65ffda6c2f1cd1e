package match

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
)

// DefaultSessionTTL caps how long an orphaned session can outlive its match.
// Every write refreshes it.
const DefaultSessionTTL = time.Hour

// Store persists serialized sessions in Redis, one key per match id. It is
// the single source of truth across execution units; worker memory is only a
// cache in front of it.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type StoreConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

func NewStore(c StoreConfig) *Store {
	ttl := c.TTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{redis: c.Redis, prefix: c.Prefix, ttl: ttl}
}

// sessionRecord is the durable shape of a session. The question list is
// persisted too, so a unit can still drive the match if the content source
// is briefly unreachable on rehydration.
type sessionRecord struct {
	MatchID      string             `json:"matchId"`
	JoinCode     string             `json:"joinCode"`
	QuizID       string             `json:"quizId"`
	Questions    []questionRecord   `json:"questions"`
	Status       domain.MatchStatus `json:"status"`
	CurrentIndex int                `json:"currentIndex"`
	PresentedAt  time.Time          `json:"presentedAt"`
	Order        []string           `json:"order"`
	Players      []playerRecord     `json:"players"`
	CreatedAt    time.Time          `json:"createdAt"`
	CompletedAt  time.Time          `json:"completedAt"`
}

type questionRecord struct {
	QuestionID string         `json:"questionId"`
	Text       string         `json:"text"`
	Options    []optionRecord `json:"options"`
	TimeLimit  int            `json:"timeLimit"`
}

type optionRecord struct {
	OptionID string `json:"optionId"`
	Text     string `json:"text"`
	Correct  bool   `json:"correct"`
}

type playerRecord struct {
	UserID    string         `json:"userId"`
	Username  string         `json:"username"`
	SocketID  string         `json:"socketId"`
	Ready     bool           `json:"ready"`
	Score     int            `json:"score"`
	Submitted bool           `json:"submitted"`
	Answers   []answerRecord `json:"answers"`
}

type answerRecord struct {
	QuestionID      string    `json:"questionId"`
	SelectedOptions []string  `json:"selectedOptions"`
	IsCorrect       bool      `json:"isCorrect"`
	TimeSpent       float64   `json:"timeSpent"`
	Points          int       `json:"points"`
	SubmitTime      time.Time `json:"submitTime"`
}

// Save writes the full serialized session and refreshes its TTL. The join
// code index is written alongside with the same expiry.
func (st *Store) Save(ctx context.Context, s *domain.Session) error {
	b, err := json.Marshal(encodeSession(s))
	if err != nil {
		return fmt.Errorf("store: marshal session %s: %w", s.MatchID, err)
	}

	if err := st.redis.Set(ctx, st.sessionKey(s.MatchID), b, st.ttl).Err(); err != nil {
		return fmt.Errorf("store: save session %s: %w", s.MatchID, err)
	}

	if s.JoinCode != "" {
		if err := st.redis.Set(ctx, st.joinCodeKey(s.JoinCode), s.MatchID, st.ttl).Err(); err != nil {
			return fmt.Errorf("store: save join code %s: %w", s.JoinCode, err)
		}
	}

	return nil
}

// Load reads and deserializes a session. Returns CodeNotFound when no key
// exists.
func (st *Store) Load(ctx context.Context, matchID string) (*domain.Session, error) {
	b, err := st.redis.Get(ctx, st.sessionKey(matchID)).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("match not found: %s", matchID))
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session %s: %w", matchID, err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal session %s: %w", matchID, err)
	}

	return decodeSession(rec), nil
}

// ResolveJoinCode maps a human-shareable code to its match id.
func (st *Store) ResolveJoinCode(ctx context.Context, code string) (string, error) {
	id, err := st.redis.Get(ctx, st.joinCodeKey(code)).Result()
	if err == redis.Nil {
		return "", errors.New(errors.CodeNotFound,
			errors.WithMessagef("match not found for join code: %s", code))
	}
	if err != nil {
		return "", fmt.Errorf("store: resolve join code %s: %w", code, err)
	}
	return id, nil
}

// Delete purges the session and its join code index.
func (st *Store) Delete(ctx context.Context, s *domain.Session) error {
	keys := []string{st.sessionKey(s.MatchID)}
	if s.JoinCode != "" {
		keys = append(keys, st.joinCodeKey(s.JoinCode))
	}
	if err := st.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("store: delete session %s: %w", s.MatchID, err)
	}
	return nil
}

func (st *Store) sessionKey(matchID string) string {
	return fmt.Sprintf("%s:session:%s", st.prefix, matchID)
}

func (st *Store) joinCodeKey(code string) string {
	return fmt.Sprintf("%s:joincode:%s", st.prefix, code)
}

func encodeSession(s *domain.Session) sessionRecord {
	rec := sessionRecord{
		MatchID:      s.MatchID,
		JoinCode:     s.JoinCode,
		QuizID:       s.QuizID,
		Status:       s.Status,
		CurrentIndex: s.CurrentIndex,
		PresentedAt:  s.PresentedAt,
		Order:        s.Order,
		CreatedAt:    s.CreatedAt,
		CompletedAt:  s.CompletedAt,
	}

	for _, q := range s.Questions {
		qr := questionRecord{QuestionID: q.QuestionID, Text: q.Text, TimeLimit: q.TimeLimit}
		for _, o := range q.Options {
			qr.Options = append(qr.Options, optionRecord{OptionID: o.OptionID, Text: o.Text, Correct: o.Correct})
		}
		rec.Questions = append(rec.Questions, qr)
	}

	for _, id := range s.Order {
		p := s.Players[id]
		pr := playerRecord{
			UserID:    p.UserID,
			Username:  p.Username,
			SocketID:  p.SocketID,
			Ready:     p.Ready,
			Score:     p.Score,
			Submitted: p.Submitted,
		}
		for _, a := range p.Answers {
			pr.Answers = append(pr.Answers, answerRecord{
				QuestionID:      a.QuestionID,
				SelectedOptions: a.SelectedOptions,
				IsCorrect:       a.IsCorrect,
				TimeSpent:       a.TimeSpent,
				Points:          a.Points,
				SubmitTime:      a.SubmitTime,
			})
		}
		rec.Players = append(rec.Players, pr)
	}

	return rec
}

func decodeSession(rec sessionRecord) *domain.Session {
	s := &domain.Session{
		MatchID:      rec.MatchID,
		JoinCode:     rec.JoinCode,
		QuizID:       rec.QuizID,
		Status:       rec.Status,
		CurrentIndex: rec.CurrentIndex,
		PresentedAt:  rec.PresentedAt,
		Players:      make(map[string]*domain.Player),
		CreatedAt:    rec.CreatedAt,
		CompletedAt:  rec.CompletedAt,
	}

	for _, qr := range rec.Questions {
		q := domain.Question{QuestionID: qr.QuestionID, Text: qr.Text, TimeLimit: qr.TimeLimit}
		for _, or := range qr.Options {
			q.Options = append(q.Options, domain.Option{OptionID: or.OptionID, Text: or.Text, Correct: or.Correct})
		}
		s.Questions = append(s.Questions, q)
	}

	for _, pr := range rec.Players {
		p := &domain.Player{
			UserID:    pr.UserID,
			Username:  pr.Username,
			SocketID:  pr.SocketID,
			Ready:     pr.Ready,
			Score:     pr.Score,
			Submitted: pr.Submitted,
		}
		for _, ar := range pr.Answers {
			p.Answers = append(p.Answers, domain.AnswerRecord{
				QuestionID:      ar.QuestionID,
				SelectedOptions: ar.SelectedOptions,
				IsCorrect:       ar.IsCorrect,
				TimeSpent:       ar.TimeSpent,
				Points:          ar.Points,
				SubmitTime:      ar.SubmitTime,
			})
		}
		s.AddPlayer(p)
	}

	return s
}
