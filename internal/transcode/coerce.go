package transcode

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// Coerce converts loosely typed input, as found in JSON bodies and MQTT
// payloads, into a Value of the type d expects. Domain checks are left to
// Encode.
func Coerce(d catalog.Descriptor, x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v, nil
	}
	bad := func() (Value, error) {
		return Value{}, fmt.Errorf("%w: %s: cannot use %v (%T) as %s", ErrEncoding, d.Name, x, x, d.Kind)
	}

	switch d.Kind {
	case catalog.KindInt, catalog.KindFlags:
		n, ok := integer(x)
		if !ok {
			return bad()
		}
		if d.Kind == catalog.KindFlags {
			if n < 0 || n > math.MaxUint32 {
				return bad()
			}
			return Flags(uint32(n)), nil
		}
		return Int(n), nil
	case catalog.KindScaled, catalog.KindFloat:
		f, ok := float(x)
		if !ok {
			return bad()
		}
		return Float(f), nil
	case catalog.KindBool:
		switch t := x.(type) {
		case bool:
			return Bool(t), nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "1", "true", "on":
				return Bool(true), nil
			case "0", "false", "off":
				return Bool(false), nil
			}
			return bad()
		}
		n, ok := integer(x)
		if !ok || (n != 0 && n != 1) {
			return bad()
		}
		return Bool(n == 1), nil
	case catalog.KindStage:
		if s, ok := x.(string); ok {
			st, err := ventilation.ParseStage(strings.TrimSpace(s))
			if err != nil {
				return Value{}, fmt.Errorf("%w: %s: %v", ErrEncoding, d.Name, err)
			}
			return Stage(st), nil
		}
		if st, ok := x.(ventilation.Stage); ok {
			return Stage(st), nil
		}
		n, ok := integer(x)
		if !ok {
			return bad()
		}
		st, ok := stageOf(n)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s: %v: %d", ErrEncoding, d.Name, ventilation.ErrInvalidStage, n)
		}
		return Stage(st), nil
	case catalog.KindMode:
		if s, ok := x.(string); ok {
			m, err := ventilation.ParseOperatingMode(strings.TrimSpace(s))
			if err != nil {
				return Value{}, fmt.Errorf("%w: %s: %v", ErrEncoding, d.Name, err)
			}
			return Mode(m), nil
		}
		n, ok := integer(x)
		if !ok {
			return bad()
		}
		m, ok := modeOf(n)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s: %v: %d", ErrEncoding, d.Name, ventilation.ErrInvalidMode, n)
		}
		return Mode(m), nil
	case catalog.KindText:
		s, ok := x.(string)
		if !ok {
			return bad()
		}
		return Text(s), nil
	default:
		return bad()
	}
}

func integer(x any) (int64, bool) {
	switch t := x.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func float(x any) (float64, bool) {
	switch t := x.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
