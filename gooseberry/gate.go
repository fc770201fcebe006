package gooseberry

import (
	"fmt"
	"time"
)

// Gate drives one terminal, or one cluster of terminals, through the shared
// rail.  It is created by AddGate and lives as long as the controller.
type Gate struct {
	name   string
	id     Identity
	settle time.Duration
	source VoltageSource
	gb     *Gooseberry

	last     float64
	haveLast bool
}

// AddGate registers a gate handle on the shared rail.  settle of zero uses
// the configured SettlingDelay.
func (g *Gooseberry) AddGate(name string, id Identity, settle time.Duration) (*Gate, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if _, ok := g.gates[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGate, name)
	}
	if settle <= 0 {
		settle = g.cfg.SettlingDelay
	}
	h := &Gate{name: name, id: id, settle: settle, source: g.shared, gb: g}
	g.gates[name] = h
	g.gateOrder = append(g.gateOrder, name)
	return h, nil
}

// Gate returns the gate handle registered under name
func (g *Gooseberry) Gate(name string) (*Gate, error) {
	h, ok := g.gates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGate, name)
	}
	return h, nil
}

// Gates returns the gate handles in the order they were added
func (g *Gooseberry) Gates() []*Gate {
	out := make([]*Gate, 0, len(g.gateOrder))
	for _, name := range g.gateOrder {
		out = append(out, g.gates[name])
	}
	return out
}

// Name is the handle name
func (h *Gate) Name() string {
	return h.name
}

// Identity is the terminal or cluster the handle drives
func (h *Gate) Identity() Identity {
	return h.id
}

// SettlingDelay is the wait applied after this handle takes the rail
func (h *Gate) SettlingDelay() time.Duration {
	return h.settle
}

// SetVoltage takes ownership of the shared rail if this handle's terminals
// are not exactly the current owner, waits out the settling delay, then sets
// the rail.  When the handle already owns the rail there is no bus write and
// no wait.
func (h *Gate) SetVoltage(v float64) error {
	owner, ok := h.gb.EnabledOwner()
	if !ok || !owner.Equal(h.id) {
		if ok {
			h.gb.logf("%s: rail owner %v -> %v, settling %v", h.name, owner, h.id, h.settle)
		} else {
			h.gb.logf("%s: rail owner none -> %v, settling %v", h.name, h.id, h.settle)
		}
		if err := h.gb.Enable(h.id); err != nil {
			return err
		}
		h.gb.Sleep(h.settle)
	}
	if err := h.source.SetVoltage(v); err != nil {
		return err
	}
	h.last = v
	h.haveLast = true
	return nil
}

// LastVoltage is the last voltage this handle applied, and false if it has
// never applied one
func (h *Gate) LastVoltage() (float64, bool) {
	return h.last, h.haveLast
}

func (h *Gate) forget() {
	h.last = 0
	h.haveLast = false
}
