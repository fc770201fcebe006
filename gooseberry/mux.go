package gooseberry

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxGate is the highest gate terminal id
const MaxGate = 31

// ErrInvalidGate is generated when a gate id is outside 0..31 or a cluster is empty
var ErrInvalidGate = errors.New("gate id must be in [0, 31]")

// Identity names what a gate handle connects to the shared rail: one terminal
// (Single) or a cluster of terminals that are always switched as a unit
// (Cluster).  Two identities are equal when they cover the same terminals,
// regardless of order or tag.
type Identity struct {
	ids     []int
	cluster bool
}

// Single is the identity of one gate terminal
func Single(id int) Identity {
	return Identity{ids: []int{id}}
}

// Cluster is the identity of terminals tied together.  The order given is
// kept for display.
func Cluster(ids ...int) Identity {
	cp := make([]int, len(ids))
	copy(cp, ids)
	return Identity{ids: cp, cluster: true}
}

// IsCluster is true for identities made by Cluster or decoded from a mask
// with more than one bit set
func (i Identity) IsCluster() bool {
	return i.cluster
}

// IDs returns the member terminal ids
func (i Identity) IDs() []int {
	out := make([]int, len(i.ids))
	copy(out, i.ids)
	return out
}

// Validate checks that the identity is not empty and all ids are in 0..31
func (i Identity) Validate() error {
	if len(i.ids) == 0 {
		return fmt.Errorf("%w: empty cluster", ErrInvalidGate)
	}
	for _, id := range i.ids {
		if id < 0 || id > MaxGate {
			return fmt.Errorf("%w: got %d", ErrInvalidGate, id)
		}
	}
	return nil
}

// Mask is the CLEN value that enables exactly these terminals.
// Ids outside 0..31 are ignored; call Validate first.
func (i Identity) Mask() uint32 {
	var m uint32
	for _, id := range i.ids {
		if id >= 0 && id <= MaxGate {
			m |= 1 << uint(id)
		}
	}
	return m
}

// Equal compares the terminal sets of two identities
func (i Identity) Equal(o Identity) bool {
	return i.Mask() == o.Mask()
}

func (i Identity) String() string {
	if i.cluster {
		return fmt.Sprintf("cluster %v", i.ids)
	}
	if len(i.ids) == 1 {
		return fmt.Sprintf("gate %d", i.ids[0])
	}
	return "none"
}

// DecodeMask converts a CLEN value to the identity that owns the rail.
// Bit i set means terminal i is connected.  The bool is false when no bit is
// set.  Cluster members come back in ascending order.
func DecodeMask(mask uint32) (Identity, bool) {
	switch bits.OnesCount32(mask) {
	case 0:
		return Identity{}, false
	case 1:
		return Single(bits.TrailingZeros32(mask)), true
	}
	ids := make([]int, 0, bits.OnesCount32(mask))
	for i := 0; i <= MaxGate; i++ {
		if (mask>>uint(i))&1 == 1 {
			ids = append(ids, i)
		}
	}
	return Identity{ids: ids, cluster: true}, true
}

// EnabledOwner decodes the committed CLEN register.  The bool is false when no
// terminal owns the rail or CLEN has not been written since power up.
func (g *Gooseberry) EnabledOwner() (Identity, bool) {
	v, err := g.regs[CLEN].CommittedField(CLEN)
	if err != nil {
		return Identity{}, false
	}
	return DecodeMask(uint32(v))
}

func (g *Gooseberry) writeCLEN(mask uint32) error {
	r := g.regs[CLEN]
	if err := r.SetField(CLEN, uint64(mask)); err != nil {
		return err
	}
	return g.bus.WriteOne(r)
}

// Enable makes id the only owner of the shared rail
func (g *Gooseberry) Enable(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return g.writeCLEN(id.Mask())
}

// EnableSingle connects one terminal to the rail and disconnects all others
func (g *Gooseberry) EnableSingle(id int) error {
	return g.Enable(Single(id))
}

// EnableCluster connects the terminals to the rail together and disconnects
// all others
func (g *Gooseberry) EnableCluster(ids ...int) error {
	return g.Enable(Cluster(ids...))
}

// EnableAllExcept connects every terminal but id
func (g *Gooseberry) EnableAllExcept(id int) error {
	if err := Single(id).Validate(); err != nil {
		return err
	}
	return g.writeCLEN(^(uint32(1) << uint(id)))
}

// DisableAll disconnects every terminal from the rail
func (g *Gooseberry) DisableAll() error {
	return g.writeCLEN(0)
}

// EnableATest routes terminal id to the ATEST pin
func (g *Gooseberry) EnableATest(id int) error {
	if err := Single(id).Validate(); err != nil {
		return err
	}
	r := g.regs[TST]
	if err := r.SetField(TST, uint64(1)<<uint(id)); err != nil {
		return err
	}
	return g.bus.WriteOne(r)
}
