package transcode

import (
	"fmt"
	"strconv"

	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

type Type int

const (
	TypeNone Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeText
	TypeStage
	TypeMode
	TypeFlags
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeText:
		return "text"
	case TypeStage:
		return "stage"
	case TypeMode:
		return "mode"
	case TypeFlags:
		return "flags"
	default:
		return "none"
	}
}

// Value is a decoded variable value. Values are comparable with ==.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
}

func Int(v int64) Value { return Value{typ: TypeInt, i: v} }
func Float(v float64) Value { return Value{typ: TypeFloat, f: v} }
func Text(v string) Value { return Value{typ: TypeText, s: v} }
func Stage(v ventilation.Stage) Value { return Value{typ: TypeStage, i: int64(v)} }
func Mode(v ventilation.OperatingMode) Value { return Value{typ: TypeMode, i: int64(v)} }
func Flags(v uint32) Value { return Value{typ: TypeFlags, i: int64(v)} }

func Bool(v bool) Value {
	if v {
		return Value{typ: TypeBool, i: 1}
	}
	return Value{typ: TypeBool}
}

func (v Value) Type() Type { return v.typ }
func (v Value) IsZero() bool { return v.typ == TypeNone }

func (v Value) Int() (int64, bool) {
	if v.typ != TypeInt {
		return 0, false
	}
	return v.i, true
}

// Float returns numeric values as float64, integers included.
func (v Value) Float() (float64, bool) {
	switch v.typ {
	case TypeFloat:
		return v.f, true
	case TypeInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

func (v Value) Bool() (bool, bool) {
	if v.typ != TypeBool {
		return false, false
	}
	return v.i == 1, true
}

func (v Value) Text() (string, bool) {
	if v.typ != TypeText {
		return "", false
	}
	return v.s, true
}

func (v Value) Stage() (ventilation.Stage, bool) {
	if v.typ != TypeStage {
		return ventilation.StageOff, false
	}
	return ventilation.Stage(v.i), true
}

func (v Value) Mode() (ventilation.OperatingMode, bool) {
	if v.typ != TypeMode {
		return ventilation.ModeAuto, false
	}
	return ventilation.OperatingMode(v.i), true
}

func (v Value) Flags() (uint32, bool) {
	if v.typ != TypeFlags {
		return 0, false
	}
	return uint32(v.i), true
}

// Interface returns the value as a plain Go value for JSON rendering.
// Enumerations render as their names.
func (v Value) Interface() any {
	switch v.typ {
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeBool:
		return v.i == 1
	case TypeText:
		return v.s
	case TypeStage:
		return ventilation.Stage(v.i).String()
	case TypeMode:
		return ventilation.OperatingMode(v.i).String()
	case TypeFlags:
		return uint32(v.i)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeInt, TypeFlags:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeNone:
		return "<none>"
	default:
		return fmt.Sprint(v.Interface())
	}
}
