package catalog

import "fmt"

// Kind tells the transcoder how a variable's value text is interpreted.
type Kind int

const (
	KindUnknown Kind = iota
	KindInt
	KindScaled // integer divided by Scale
	KindFloat
	KindBool
	KindStage
	KindMode
	KindFlags // bit field described by Labels
	KindFlag  // single bit of a bit field, tested against Mask
	KindText
)

func (k Kind) Valid() bool {
	return k > KindUnknown && k <= KindText
}

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindScaled:
		return "scaled"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindStage:
		return "stage"
	case KindMode:
		return "mode"
	case KindFlags:
		return "flags"
	case KindFlag:
		return "flag"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Range bounds an integer domain. The zero Range is unbounded.
type Range struct {
	Min, Max int64
	Set      bool
}

func Between(min, max int64) Range {
	return Range{Min: min, Max: max, Set: true}
}

func (r Range) Contains(v int64) bool {
	return !r.Set || (v >= r.Min && v <= r.Max)
}

// Descriptor describes one device variable.
//
// Address is the variable number: 102 is exchanged on the wire as "v00102".
// Size is the maximum number of characters of the value text.
type Descriptor struct {
	Name    string
	Address uint16
	Size    int
	Kind    Kind
	Access  Access
	Unit    string
	Scale   float64
	Domain  Range
	Mask    uint32
	Labels  Labels
}

// Variable returns the name the device knows the variable by.
func (d Descriptor) Variable() string {
	return fmt.Sprintf("v%05d", d.Address)
}

func (d Descriptor) Writable() bool {
	return d.Access == ReadWrite
}

// WordCount is the number of registers holding the device answer
// "vNNNNN=<value>" plus its NUL terminator.
func (d Descriptor) WordCount() uint16 {
	n := len(d.Variable()) + 1 + d.Size
	return uint16((n + 2) / 2)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Name, d.Variable(), d.Kind)
}
