// Package transcode converts between device register words and typed
// variable values.
//
// Every variable is exchanged through a single holding register block as
// NUL padded ASCII: a read announces "v00102" and reads back "v00102=3",
// a write sends "v00102=3".
package transcode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// RegisterAddress is the holding register every variable frame starts at.
const RegisterAddress uint16 = 1

// QueryFrame returns the words selecting d for the next read.
func QueryFrame(d catalog.Descriptor) []uint16 {
	return pack(d.Variable())
}

// Decode parses the device answer for d.
func Decode(d catalog.Descriptor, words []uint16) (Value, error) {
	answer := unpack(words)
	name, raw, ok := strings.Cut(answer, "=")
	if !ok {
		return Value{}, fmt.Errorf("%w: %s: malformed answer %q", ErrDecoding, d.Name, answer)
	}
	if name != d.Variable() {
		return Value{}, fmt.Errorf("%w: asked %s, got %s", ErrVariableMismatch, d.Variable(), name)
	}
	return DecodeText(d, raw)
}

// DecodeText parses the value text of d.
func DecodeText(d catalog.Descriptor, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	fail := func(err error) (Value, error) {
		return Value{}, fmt.Errorf("%w: %s: %q: %v", ErrDecoding, d.Name, raw, err)
	}

	switch d.Kind {
	case catalog.KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fail(err)
		}
		return Int(n), nil
	case catalog.KindScaled:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fail(err)
		}
		return Float(round2(float64(n) / d.Scale)), nil
	case catalog.KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fail(err)
		}
		return Float(f), nil
	case catalog.KindBool:
		switch raw {
		case "1":
			return Bool(true), nil
		case "0":
			return Bool(false), nil
		}
		return fail(fmt.Errorf("not a boolean"))
	case catalog.KindStage:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fail(err)
		}
		s, ok := stageOf(n)
		if !ok || !d.Domain.Contains(n) {
			return fail(ventilation.ErrInvalidStage)
		}
		return Stage(s), nil
	case catalog.KindMode:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fail(err)
		}
		m, ok := modeOf(n)
		if !ok {
			return fail(ventilation.ErrInvalidMode)
		}
		return Mode(m), nil
	case catalog.KindFlags:
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fail(err)
		}
		return Flags(uint32(n)), nil
	case catalog.KindFlag:
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fail(err)
		}
		return Bool(uint32(n)&d.Mask == d.Mask), nil
	case catalog.KindText:
		return Text(raw), nil
	default:
		return fail(fmt.Errorf("unsupported kind %s", d.Kind))
	}
}

// Encode returns the words writing v to d.
func Encode(d catalog.Descriptor, v Value) ([]uint16, error) {
	text, err := EncodeText(d, v)
	if err != nil {
		return nil, err
	}
	return pack(d.Variable() + "=" + text), nil
}

// EncodeText renders v as the value text of d. Decoding the result yields v
// for every value in the domain of a writable descriptor.
func EncodeText(d catalog.Descriptor, v Value) (string, error) {
	if !d.Writable() {
		return "", fmt.Errorf("%w: %s", ErrReadOnly, d.Name)
	}
	mismatch := func() (string, error) {
		return "", fmt.Errorf("%w: %s expects %s, got %s", ErrEncoding, d.Name, d.Kind, v.Type())
	}
	outOfRange := func(n int64) (string, error) {
		return "", fmt.Errorf("%w: %s: %d outside [%d, %d]", ErrEncoding, d.Name, n, d.Domain.Min, d.Domain.Max)
	}

	var text string
	switch d.Kind {
	case catalog.KindInt:
		n, ok := v.Int()
		if !ok {
			return mismatch()
		}
		if !d.Domain.Contains(n) {
			return outOfRange(n)
		}
		text = strconv.FormatInt(n, 10)
	case catalog.KindScaled:
		f, ok := v.Float()
		if !ok {
			return mismatch()
		}
		text = strconv.FormatInt(int64(math.Round(f*d.Scale)), 10)
	case catalog.KindFloat:
		f, ok := v.Float()
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return mismatch()
		}
		text = strconv.FormatFloat(f, 'f', -1, 64)
	case catalog.KindBool:
		b, ok := v.Bool()
		if !ok {
			return mismatch()
		}
		text = "0"
		if b {
			text = "1"
		}
	case catalog.KindStage:
		s, ok := v.Stage()
		if !ok {
			n, isInt := v.Int()
			if !isInt {
				return mismatch()
			}
			var inRange bool
			if s, inRange = stageOf(n); !inRange {
				return outOfRange(n)
			}
		}
		if !s.Valid() || !d.Domain.Contains(int64(s)) {
			return outOfRange(int64(s))
		}
		text = strconv.Itoa(int(s))
	case catalog.KindMode:
		m, ok := v.Mode()
		if !ok {
			n, isInt := v.Int()
			if !isInt {
				return mismatch()
			}
			var inRange bool
			if m, inRange = modeOf(n); !inRange {
				return "", fmt.Errorf("%w: %s: %v", ErrEncoding, d.Name, ventilation.ErrInvalidMode)
			}
		}
		if !m.Valid() {
			return "", fmt.Errorf("%w: %s: %v", ErrEncoding, d.Name, ventilation.ErrInvalidMode)
		}
		text = strconv.Itoa(int(m))
	case catalog.KindFlags:
		f, ok := v.Flags()
		if !ok {
			return mismatch()
		}
		text = strconv.FormatUint(uint64(f), 10)
	case catalog.KindText:
		s, ok := v.Text()
		if !ok {
			return mismatch()
		}
		if !printableASCII(s) {
			return "", fmt.Errorf("%w: %s: text must be printable ASCII without '='", ErrEncoding, d.Name)
		}
		text = s
	default:
		return "", fmt.Errorf("%w: %s: %s variables cannot be written", ErrEncoding, d.Name, d.Kind)
	}

	if len(text) > d.Size {
		return "", fmt.Errorf("%w: %s: %q exceeds %d characters", ErrEncoding, d.Name, text, d.Size)
	}
	return text, nil
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == '=' {
			return false
		}
	}
	return true
}

// pack lays s out as big-endian register words with at least one trailing
// NUL byte.
func pack(s string) []uint16 {
	words := make([]uint16, (len(s)+2)/2)
	for i := 0; i < len(s); i++ {
		if i%2 == 0 {
			words[i/2] |= uint16(s[i]) << 8
		} else {
			words[i/2] |= uint16(s[i])
		}
	}
	return words
}

// unpack reverses pack, stopping at the first NUL byte.
func unpack(words []uint16) string {
	var b strings.Builder
	for _, w := range words {
		for _, c := range [2]byte{byte(w >> 8), byte(w)} {
			if c == 0 {
				return b.String()
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// stageOf narrows n to a stage. The range is checked on the int64 so that
// large inputs cannot wrap into a valid stage where int is 32 bits.
func stageOf(n int64) (ventilation.Stage, bool) {
	if n < int64(ventilation.StageOff) || n > int64(ventilation.StageMaximum) {
		return 0, false
	}
	return ventilation.Stage(n), true
}

func modeOf(n int64) (ventilation.OperatingMode, bool) {
	if n != int64(ventilation.ModeAuto) && n != int64(ventilation.ModeManual) {
		return 0, false
	}
	return ventilation.OperatingMode(n), true
}
