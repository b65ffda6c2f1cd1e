package master

import (
	"log/slog"
	"time"

	"github.com/victornm/qduel/internal/errors"
	"github.com/victornm/qduel/internal/worker"
)

const heartbeatTimeout = 2 * time.Second

// Pool tracks the fixed set of execution units and assigns new matches to
// the least-loaded live unit, honoring the per-unit session cap.
type Pool struct {
	units      []*worker.Unit
	perUnitCap int
	log        *slog.Logger
}

func NewPool(units []*worker.Unit, perUnitCap int) *Pool {
	return &Pool{
		units:      units,
		perUnitCap: perUnitCap,
		log:        slog.Default(),
	}
}

// Assign picks the live unit with the most free capacity. Every unit being
// full or dead is a capacity error surfaced to the client.
func (p *Pool) Assign() (*worker.Unit, error) {
	var best *worker.Unit
	bestLoad := -1

	for _, u := range p.units {
		load := u.ActiveSessions()
		if load >= p.perUnitCap {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = u, load
		}
	}

	if best == nil {
		return nil, errors.New(errors.CodeResourceExhausted,
			errors.WithMessagef("all execution units are at capacity"))
	}
	return best, nil
}

// Unit looks up a unit by id.
func (p *Pool) Unit(id string) (*worker.Unit, bool) {
	for _, u := range p.units {
		if u.ID() == id {
			return u, true
		}
	}
	return nil, false
}

// Heartbeat probes every unit once and logs the dead ones. Dispatch already
// fails fast on a dead unit; this gives operators an early signal.
func (p *Pool) Heartbeat() {
	for _, u := range p.units {
		if err := u.Ping(heartbeatTimeout); err != nil {
			p.log.Error("master: execution unit unresponsive", "unit", u.ID(), "error", err)
		}
	}
}

// Start launches every unit's command loop.
func (p *Pool) Start() {
	for _, u := range p.units {
		u.Start()
	}
}

// Stop terminates every unit.
func (p *Pool) Stop() {
	for _, u := range p.units {
		u.Stop()
	}
}
