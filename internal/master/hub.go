// Package master terminates client connections, authenticates them, routes
// commands to the execution unit owning each match, and fans unit-originated
// events back out to the connected sockets.
package master

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
	"github.com/victornm/qduel/internal/event"
	"github.com/victornm/qduel/internal/protocol"
	"github.com/victornm/qduel/internal/worker"
)

// JoinCodeResolver maps a shareable join code to its match id. Implemented
// by the durable session store.
type JoinCodeResolver interface {
	ResolveJoinCode(ctx context.Context, code string) (string, error)
}

type HubConfig struct {
	Pool      *Pool
	JoinCodes JoinCodeResolver
	EventBus  *event.Bus

	// RouteRetention is how long a completed match keeps its routing entry,
	// matching the engine's purge delay so late reconnects still route.
	RouteRetention time.Duration
}

type inbound struct {
	client *Client
	msg    protocol.ClientMessage
}

// Hub owns the socket registry and the routing table. It implements
// match.Emitter for delivery back to clients.
type Hub struct {
	pool      *Pool
	table     *Table
	joinCodes JoinCodeResolver
	retention time.Duration
	log       *slog.Logger

	clientMu   sync.RWMutex
	clients    map[string]*Client // by socket id
	register   chan *Client
	unregister chan *Client
	messages   chan inbound
	done       chan struct{}
}

func NewHub(c HubConfig) *Hub {
	h := &Hub{
		pool:       c.Pool,
		table:      NewTable(),
		joinCodes:  c.JoinCodes,
		retention:  c.RouteRetention,
		log:        slog.Default(),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		messages:   make(chan inbound, 256),
		done:       make(chan struct{}),
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameMatchCompleted, func(ctx context.Context, e event.Event) error {
			h.retireRoute(e.(domain.EventMatchCompleted).MatchID)
			return nil
		})
	}

	return h
}

// Run drives the hub loop until Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clientMu.Lock()
			h.clients[c.SocketID] = c
			h.clientMu.Unlock()
			h.log.Info("master: client connected", "socket", c.SocketID, "user", c.UserID)

		case c := <-h.unregister:
			h.clientMu.Lock()
			cur, ok := h.clients[c.SocketID]
			if ok && cur == c {
				delete(h.clients, c.SocketID)
			}
			h.clientMu.Unlock()

			if ok && cur == c {
				h.table.UnbindSocket(c.SocketID)
				c.close()
				h.log.Info("master: client disconnected", "socket", c.SocketID, "user", c.UserID)
			}

		case in := <-h.messages:
			h.route(in.client, in.msg)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

// route turns an inbound frame into a routed command: decode the payload,
// find (or assign) the owning unit, then dispatch. Any failure comes back to
// the sender as match_error. A join by code needs a store read to find the
// match id, so that path leaves the hub loop first.
func (h *Hub) route(c *Client, msg protocol.ClientMessage) {
	cmd, err := h.buildCommand(c, msg)
	if err != nil {
		c.SendEvent(protocol.ErrorEvent(err))
		return
	}

	if cmd.MatchID == "" && cmd.JoinCode != "" {
		go h.resolveAndDispatch(c, cmd)
		return
	}

	h.dispatch(c, cmd)
}

func (h *Hub) resolveAndDispatch(c *Client, cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	matchID, err := h.joinCodes.ResolveJoinCode(ctx, cmd.JoinCode)
	if err != nil {
		c.SendEvent(protocol.ErrorEvent(err))
		return
	}

	cmd.MatchID = matchID
	h.dispatch(c, cmd)
}

// dispatch finds (or assigns) the owning unit, binds the socket, and queues
// the command. The binding happens before the unit runs the command so that
// events the handler broadcasts reach the issuing socket; CommandFailed rolls
// it back when the unit rejects the command. Table, pool, and units are safe
// for concurrent use, so dispatch may run off the hub loop.
func (h *Hub) dispatch(c *Client, cmd protocol.Command) {
	unit, err := h.ownerUnit(cmd)
	if err != nil {
		c.SendEvent(protocol.ErrorEvent(err))
		return
	}

	h.table.Bind(cmd.MatchID, cmd.SocketID, cmd.UserID)

	if err := unit.Dispatch(cmd); err != nil {
		h.CommandFailed(cmd, err)
		c.SendEvent(protocol.ErrorEvent(err))
	}
}

// CommandFailed rolls back the routing state recorded for a command the
// owning unit rejected. Only membership-establishing commands unbind their
// socket. The route itself is dropped when the command was a create (no
// session was ever originated) or the engine reported the match absent after
// checking the durable store; a route whose session still exists is kept,
// since removing it would let a later command assign the match to a second
// unit.
func (h *Hub) CommandFailed(cmd protocol.Command, err error) {
	switch cmd.Name {
	case protocol.CommandCreateMatch, protocol.CommandJoinMatch, protocol.CommandConnectToMatch:
	default:
		return
	}
	if cmd.MatchID == "" {
		return
	}

	h.table.UnbindSocket(cmd.SocketID)

	if cmd.Name == protocol.CommandCreateMatch || errors.Convert(err).Code == errors.CodeNotFound {
		h.table.Remove(cmd.MatchID)
	}
}

func (h *Hub) buildCommand(c *Client, msg protocol.ClientMessage) (protocol.Command, error) {
	cmd := protocol.Command{
		Name:     msg.Command,
		SocketID: c.SocketID,
		UserID:   c.UserID,
		Username: c.Username,
	}

	switch msg.Command {
	case protocol.CommandCreateMatch:
		var req protocol.CreateMatchRequest
		if err := unmarshalData(msg.Data, &req); err != nil {
			return cmd, err
		}
		if req.QuizID == "" {
			return cmd, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("quizId is required"))
		}
		cmd.QuizID = req.QuizID
		cmd.MatchID = uuid.NewString()

	case protocol.CommandJoinMatch:
		var req protocol.JoinMatchRequest
		if err := unmarshalData(msg.Data, &req); err != nil {
			return cmd, err
		}
		if req.MatchID == "" && req.JoinCode == "" {
			return cmd, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("matchId or joinCode is required"))
		}
		cmd.MatchID, cmd.JoinCode = req.MatchID, req.JoinCode

	case protocol.CommandConnectToMatch:
		var req protocol.ConnectToMatchRequest
		if err := unmarshalData(msg.Data, &req); err != nil {
			return cmd, err
		}
		if req.MatchID == "" {
			return cmd, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("matchId is required"))
		}
		cmd.MatchID = req.MatchID

	case protocol.CommandPlayerReady:
		matchID, ok := h.table.MatchBySocket(c.SocketID)
		if !ok {
			return cmd, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("socket is not attached to a match"))
		}
		cmd.MatchID = matchID

	case protocol.CommandSubmitAnswer:
		var req protocol.SubmitAnswerRequest
		if err := unmarshalData(msg.Data, &req); err != nil {
			return cmd, err
		}
		matchID, ok := h.table.MatchBySocket(c.SocketID)
		if !ok {
			return cmd, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("socket is not attached to a match"))
		}
		cmd.MatchID = matchID
		cmd.QuestionID = req.QuestionID
		cmd.SelectedOptions = req.SelectedOptions
		cmd.TimeSpent = req.TimeSpent

	default:
		return cmd, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown command: %s", msg.Command))
	}

	return cmd, nil
}

// ownerUnit finds the unit owning the command's match, assigning one for a
// match this process does not route yet. Single-owner assignment is what
// keeps two units from ever writing the same match id.
func (h *Hub) ownerUnit(cmd protocol.Command) (*worker.Unit, error) {
	if unitID, ok := h.table.Owner(cmd.MatchID); ok {
		u, ok := h.pool.Unit(unitID)
		if !ok {
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("execution unit %s is gone", unitID))
		}
		return u, nil
	}

	u, err := h.pool.Assign()
	if err != nil {
		return nil, err
	}

	ownerID := h.table.Assign(cmd.MatchID, u.ID())
	if ownerID != u.ID() {
		// Lost a concurrent assignment race; honor the recorded owner.
		owner, ok := h.pool.Unit(ownerID)
		if !ok {
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("execution unit %s is gone", ownerID))
		}
		return owner, nil
	}
	return u, nil
}

// retireRoute drops a completed match's routing entry once the engine's
// grace period for reconnects has passed.
func (h *Hub) retireRoute(matchID string) {
	if h.retention <= 0 {
		h.table.Remove(matchID)
		return
	}
	time.AfterFunc(h.retention, func() {
		h.table.Remove(matchID)
	})
}

// ToSocket delivers an event to one named transport handle.
func (h *Hub) ToSocket(socketID string, e protocol.ServerEvent) {
	if socketID == "" {
		return
	}
	h.withClient(socketID, func(c *Client) {
		c.SendEvent(e)
	})
}

// ToMatch delivers an event to every socket attached to a match, minus the
// exclusion list.
func (h *Hub) ToMatch(matchID string, e protocol.ServerEvent, excludeSockets ...string) {
	for _, socketID := range h.table.SocketsForMatch(matchID, excludeSockets...) {
		h.ToSocket(socketID, e)
	}
}

// withClient runs fn against a registered client. Events for sockets that
// disconnected in the meantime are dropped; the client will reconnect and
// resync from durable state.
func (h *Hub) withClient(socketID string, fn func(c *Client)) {
	h.clientMu.RLock()
	c, ok := h.clients[socketID]
	h.clientMu.RUnlock()

	if ok {
		fn(c)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("missing command payload"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed command payload"),
			errors.WithCause(err))
	}
	return nil
}
