// Package worker runs execution units: isolated loops that each own a subset
// of active sessions. Units receive the closed command union from the master
// over a channel and run commands to completion, one at a time.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/qduel/internal/errors"
	"github.com/victornm/qduel/internal/protocol"
)

const (
	commandTimeout = 10 * time.Second
	mailboxSize    = 256
)

// Engine is the match core a unit drives. Implemented by match.Service.
type Engine interface {
	CreateMatch(ctx context.Context, cmd protocol.Command) error
	JoinMatch(ctx context.Context, cmd protocol.Command) error
	ConnectToMatch(ctx context.Context, cmd protocol.Command) error
	PlayerReady(ctx context.Context, cmd protocol.Command) error
	SubmitAnswer(ctx context.Context, cmd protocol.Command) error
	ActiveSessions() int
}

// ErrorEmitter reports a failed command back to the master: the error event
// goes to the originating socket, and the routing layer rolls back any
// binding it recorded for the command.
type ErrorEmitter interface {
	ToSocket(socketID string, e protocol.ServerEvent)
	CommandFailed(cmd protocol.Command, err error)
}

type Unit struct {
	id      string
	engine  Engine
	emitter ErrorEmitter
	log     *slog.Logger

	commands chan command
	done     chan struct{}
}

type command struct {
	cmd  protocol.Command
	ping chan struct{}
}

func NewUnit(id string, engine Engine, emitter ErrorEmitter) *Unit {
	return &Unit{
		id:       id,
		engine:   engine,
		emitter:  emitter,
		log:      slog.Default().With("unit", id),
		commands: make(chan command, mailboxSize),
		done:     make(chan struct{}),
	}
}

func (u *Unit) ID() string { return u.id }

// SetEmitter installs the error delivery side. Called during wiring, before
// the unit starts.
func (u *Unit) SetEmitter(e ErrorEmitter) {
	u.emitter = e
}

// ActiveSessions reports the unit's current session count.
func (u *Unit) ActiveSessions() int { return u.engine.ActiveSessions() }

// Start launches the unit's command loop.
func (u *Unit) Start() {
	go u.run()
}

// Stop terminates the loop. Queued commands are dropped; callers see the
// unit as unavailable from then on.
func (u *Unit) Stop() {
	select {
	case <-u.done:
	default:
		close(u.done)
	}
}

// Dispatch queues a command for the unit. Fails fast with a connectivity
// error when the unit has stopped or its mailbox is saturated.
func (u *Unit) Dispatch(cmd protocol.Command) error {
	select {
	case <-u.done:
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s is not available", u.id))
	default:
	}

	select {
	case u.commands <- command{cmd: cmd}:
		return nil
	case <-u.done:
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s is not available", u.id))
	default:
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s mailbox is full", u.id))
	}
}

// Ping round-trips a liveness probe through the command loop.
func (u *Unit) Ping(timeout time.Duration) error {
	reply := make(chan struct{}, 1)

	select {
	case u.commands <- command{ping: reply}:
	case <-u.done:
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s is not available", u.id))
	case <-time.After(timeout):
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s did not accept ping", u.id))
	}

	select {
	case <-reply:
		return nil
	case <-u.done:
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s is not available", u.id))
	case <-time.After(timeout):
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution unit %s did not answer ping", u.id))
	}
}

func (u *Unit) run() {
	for {
		select {
		case c := <-u.commands:
			if c.ping != nil {
				c.ping <- struct{}{}
				continue
			}
			u.handle(c.cmd)

		case <-u.done:
			return
		}
	}
}

func (u *Unit) handle(cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Name {
	case protocol.CommandCreateMatch:
		err = u.engine.CreateMatch(ctx, cmd)
	case protocol.CommandJoinMatch:
		err = u.engine.JoinMatch(ctx, cmd)
	case protocol.CommandConnectToMatch:
		err = u.engine.ConnectToMatch(ctx, cmd)
	case protocol.CommandPlayerReady:
		err = u.engine.PlayerReady(ctx, cmd)
	case protocol.CommandSubmitAnswer:
		err = u.engine.SubmitAnswer(ctx, cmd)
	default:
		err = errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown command: %s", cmd.Name))
	}

	if err != nil {
		u.log.Warn("worker: command failed",
			"command", string(cmd.Name),
			"match", cmd.MatchID,
			"user", cmd.UserID,
			"error", err,
		)
		if u.emitter != nil {
			u.emitter.CommandFailed(cmd, err)
			u.emitter.ToSocket(cmd.SocketID, protocol.ErrorEvent(err))
		}
	}
}
