/*Package register models device registers as packed bit fields.

A Register holds two values.  The shadow value is assembled in memory by field
writes; the committed value is the last value confirmed pushed over the bus.
Field writes only ever touch the shadow.  Commit is called by the bus
transport right after a successful transfer, never by user code that has not
just written the register out.

Bit 0 is the least significant bit and field end bits are inclusive, so a
field {"DRIVE", 0, 2} spans the three lowest bits.

Registers may be wider than a machine word (e.g. a 128 bit shift register), so
values are held as arbitrary width integers.  Fields up to 64 bits wide can be
read and written with the uint64 methods; wider fields use the *Big variants.
*/
package register

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
)

// DefaultWidth is the width of a register in bits when none is given
const DefaultWidth = 32

var (
	// ErrFieldOverflow is generated when a value does not fit in the bits of a field
	ErrFieldOverflow = errors.New("value does not fit in field")

	// ErrUnknownField is generated when a field name is not defined on a register
	ErrUnknownField = errors.New("unknown field")

	// ErrNotCommitted is generated when the committed value is read before any commit
	ErrNotCommitted = errors.New("register has never been committed")

	// ErrFieldOverlap is generated when two fields share a bit
	ErrFieldOverlap = errors.New("fields overlap")

	// ErrFieldRange is generated when a field lies outside the register or has end < start
	ErrFieldRange = errors.New("field outside register")

	// ErrBadWidth is generated when a register width is not a positive multiple of 8
	ErrBadWidth = errors.New("register width must be a positive multiple of 8")
)

// FieldOverflowError describes a rejected field write.  It matches
// ErrFieldOverflow with errors.Is
type FieldOverflowError struct {
	Register string
	Field    string
	Value    *big.Int
	Bits     uint
}

func (e *FieldOverflowError) Error() string {
	return fmt.Sprintf("register %s field %s: value %s does not fit in %d bits",
		e.Register, e.Field, e.Value.String(), e.Bits)
}

// Unwrap returns ErrFieldOverflow
func (e *FieldOverflowError) Unwrap() error {
	return ErrFieldOverflow
}

// BitField is a named range of bits inside a register word
type BitField struct {
	Name string

	// Start is the lowest bit of the field
	Start uint

	// End is the highest bit of the field, inclusive
	End uint
}

// Width is the number of bits in the field
func (f BitField) Width() uint {
	return f.End - f.Start + 1
}

// mask returns a mask of Width ones, not shifted
func (f BitField) mask() *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), f.Width())
	return m.Sub(m, big.NewInt(1))
}

// Register is a device register with a shadow and committed value
type Register struct {
	// Name is the register name, e.g. CLEN
	Name string

	// Address is the bus address the register is written at
	Address byte

	// Width is the register width in bits
	Width uint

	// RequireSync indicates the register should be written through the
	// batched path rather than standalone
	RequireSync bool

	fields []BitField
	index  map[string]int

	shadow    *big.Int
	committed *big.Int // nil until the first commit
}

// New creates a new register.  width of 0 means DefaultWidth.
// Fields are validated to lie inside the register and not overlap.
func New(name string, address byte, width uint, requireSync bool, fields ...BitField) (*Register, error) {
	if width == 0 {
		width = DefaultWidth
	}
	if width%8 != 0 {
		return nil, fmt.Errorf("%w: %s is %d bits", ErrBadWidth, name, width)
	}
	r := &Register{
		Name:        name,
		Address:     address,
		Width:       width,
		RequireSync: requireSync,
		fields:      make([]BitField, 0, len(fields)),
		index:       make(map[string]int, len(fields)),
		shadow:      new(big.Int),
	}
	for _, f := range fields {
		if f.End < f.Start || f.End >= width {
			return nil, fmt.Errorf("%w: %s.%s [%d:%d] in %d bits", ErrFieldRange, name, f.Name, f.End, f.Start, width)
		}
		if _, ok := r.index[f.Name]; ok {
			return nil, fmt.Errorf("%w: %s.%s defined twice", ErrFieldOverlap, name, f.Name)
		}
		for _, g := range r.fields {
			if f.Start <= g.End && g.Start <= f.End {
				return nil, fmt.Errorf("%w: %s.%s and %s.%s", ErrFieldOverlap, name, f.Name, name, g.Name)
			}
		}
		r.index[f.Name] = len(r.fields)
		r.fields = append(r.fields, f)
	}
	return r, nil
}

// MustNew is New, but panics on error.  Use it for static register tables.
func MustNew(name string, address byte, width uint, requireSync bool, fields ...BitField) *Register {
	r, err := New(name, address, width, requireSync, fields...)
	if err != nil {
		panic(err)
	}
	return r
}

// Fields returns a copy of the field definitions in declaration order
func (r *Register) Fields() []BitField {
	out := make([]BitField, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r *Register) field(name string) (BitField, error) {
	i, ok := r.index[name]
	if !ok {
		return BitField{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, r.Name, name)
	}
	return r.fields[i], nil
}

// SetField writes v into the named field of the shadow value.
// A value that does not fit leaves the shadow untouched.
func (r *Register) SetField(name string, v uint64) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	if uint(bits.Len64(v)) > f.Width() {
		return &FieldOverflowError{Register: r.Name, Field: name, Value: new(big.Int).SetUint64(v), Bits: f.Width()}
	}
	r.insert(f, new(big.Int).SetUint64(v))
	return nil
}

// SetFieldBig is SetField for fields wider than 64 bits.  Negative values
// never fit.
func (r *Register) SetFieldBig(name string, v *big.Int) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	if v.Sign() < 0 || uint(v.BitLen()) > f.Width() {
		return &FieldOverflowError{Register: r.Name, Field: name, Value: new(big.Int).Set(v), Bits: f.Width()}
	}
	r.insert(f, v)
	return nil
}

func (r *Register) insert(f BitField, v *big.Int) {
	hole := new(big.Int).Lsh(f.mask(), f.Start)
	r.shadow.AndNot(r.shadow, hole)
	r.shadow.Or(r.shadow, new(big.Int).Lsh(v, f.Start))
}

func extract(word *big.Int, f BitField) *big.Int {
	out := new(big.Int).Rsh(word, f.Start)
	return out.And(out, f.mask())
}

// Set assigns the whole shadow word
func (r *Register) Set(v uint64) error {
	if uint(bits.Len64(v)) > r.Width {
		return &FieldOverflowError{Register: r.Name, Field: "*", Value: new(big.Int).SetUint64(v), Bits: r.Width}
	}
	r.shadow.SetUint64(v)
	return nil
}

// Restore puts back a shadow value previously taken with Value.  Bits above
// Width are dropped.
func (r *Register) Restore(v *big.Int) {
	top := new(big.Int).Lsh(big.NewInt(1), r.Width)
	r.shadow.And(v, top.Sub(top, big.NewInt(1)))
}

// Zero clears every field of the shadow.  It does not commit.
func (r *Register) Zero() {
	r.shadow.SetInt64(0)
}

// Field reads a field from the shadow value
func (r *Register) Field(name string) (uint64, error) {
	v, err := r.FieldBig(name)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// FieldBig reads a field of any width from the shadow value
func (r *Register) FieldBig(name string) (*big.Int, error) {
	f, err := r.field(name)
	if err != nil {
		return nil, err
	}
	return extract(r.shadow, f), nil
}

// CommittedField reads a field from the committed value
func (r *Register) CommittedField(name string) (uint64, error) {
	f, err := r.field(name)
	if err != nil {
		return 0, err
	}
	if r.committed == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotCommitted, r.Name)
	}
	return extract(r.committed, f).Uint64(), nil
}

// Value returns a copy of the shadow value
func (r *Register) Value() *big.Int {
	return new(big.Int).Set(r.shadow)
}

// Committed returns a copy of the committed value, and false if the register
// has never been committed
func (r *Register) Committed() (*big.Int, bool) {
	if r.committed == nil {
		return nil, false
	}
	return new(big.Int).Set(r.committed), true
}

// Commit copies the shadow into the committed value.  It must only be called
// immediately after the shadow was successfully transferred to the device.
func (r *Register) Commit() {
	if r.committed == nil {
		r.committed = new(big.Int)
	}
	r.committed.Set(r.shadow)
}

// Invalidate forgets the committed value, e.g. after the device lost power
func (r *Register) Invalidate() {
	r.committed = nil
}

// Dirty is true when the shadow differs from the committed value, or nothing
// was ever committed
func (r *Register) Dirty() bool {
	return r.committed == nil || r.committed.Cmp(r.shadow) != 0
}

// Bytes serializes the shadow value big-endian into Width/8 bytes
func (r *Register) Bytes() []byte {
	buf := make([]byte, r.Width/8)
	return r.shadow.FillBytes(buf)
}

// Snapshot is a printable summary of a register
type Snapshot struct {
	Name      string            `json:"name"`
	Address   byte              `json:"address"`
	Width     uint              `json:"width"`
	Shadow    string            `json:"shadow"`
	Committed string            `json:"committed,omitempty"`
	Dirty     bool              `json:"dirty"`
	Fields    map[string]string `json:"fields"`
}

// Snapshot summarizes the register, with values formatted as hex.
// Field values are decoded from the shadow.
func (r *Register) Snapshot() Snapshot {
	s := Snapshot{
		Name:    r.Name,
		Address: r.Address,
		Width:   r.Width,
		Shadow:  fmt.Sprintf("%#x", r.shadow),
		Dirty:   r.Dirty(),
		Fields:  make(map[string]string, len(r.fields)),
	}
	if r.committed != nil {
		s.Committed = fmt.Sprintf("%#x", r.committed)
	}
	for _, f := range r.fields {
		s.Fields[f.Name] = fmt.Sprintf("%#x", extract(r.shadow, f))
	}
	return s
}
