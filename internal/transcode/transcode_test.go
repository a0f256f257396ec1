package transcode

import (
	"errors"
	"testing"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

func lookup(t *testing.T, name string) catalog.Descriptor {
	t.Helper()
	d, err := catalog.Default().Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return d
}

// answer builds the words the device returns for "vNNNNN=value", padded to
// the descriptor's word count.
func answer(d catalog.Descriptor, value string) []uint16 {
	words := pack(d.Variable() + "=" + value)
	out := make([]uint16, d.WordCount())
	copy(out, words)
	return out
}

func TestPackUnpack(t *testing.T) {
	words := pack("v00102")
	if len(words) != 4 {
		t.Fatalf("len(pack(v00102))=%d want 4", len(words))
	}
	if words[0] != uint16('v')<<8|uint16('0') {
		t.Fatalf("first word=%#04x", words[0])
	}
	if words[3] != 0 {
		t.Fatalf("want NUL terminator word, got %#04x", words[3])
	}
	if got := unpack(words); got != "v00102" {
		t.Fatalf("unpack=%q", got)
	}

	odd := pack("v00102=1")
	if len(odd) != 5 || unpack(odd) != "v00102=1" {
		t.Fatalf("pack/unpack odd length: %v %q", odd, unpack(odd))
	}
}

func TestDecode_Table(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Value
	}{
		{catalog.FanStage, "3", Stage(ventilation.StageIntensive)},
		{catalog.OperatingMode, "1", Mode(ventilation.ModeManual)},
		{catalog.PartyMode, "1", Bool(true)},
		{catalog.BypassState, "0", Bool(false)},
		{catalog.TemperatureOutsideAir, "-3.5", Float(-3.5)},
		{catalog.SupplyAirRPM, "1250", Int(1250)},
		{catalog.OperationHoursSupplyAirFan, "90", Float(1.5)},
		{catalog.OperationHoursPreheater, "100", Float(1.67)},
		{catalog.Errors, "3", Flags(3)},
		{catalog.InfoFilterChangeFlag, "5", Bool(true)},
		{catalog.InfoFilterChangeFlag, "4", Bool(false)},
		{catalog.ArticleDescription, "KWL EC 300 W R", Text("KWL EC 300 W R")},
	}

	for _, tc := range cases {
		t.Run(tc.name+"="+tc.raw, func(t *testing.T) {
			d := lookup(t, tc.name)
			got, err := Decode(d, answer(d, tc.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Decode=%v (%s) want %v (%s)", got, got.Type(), tc.want, tc.want.Type())
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	fan := lookup(t, catalog.FanStage)

	if _, err := Decode(fan, answer(fan, "7")); !errors.Is(err, ErrDecoding) {
		t.Fatalf("stage outside table: err=%v want ErrDecoding", err)
	}
	if _, err := Decode(fan, pack("v00102")); !errors.Is(err, ErrDecoding) {
		t.Fatalf("missing '=': err=%v want ErrDecoding", err)
	}
	if _, err := Decode(fan, pack("v00101=1")); !errors.Is(err, ErrVariableMismatch) {
		t.Fatalf("other variable: err=%v want ErrVariableMismatch", err)
	}

	party := lookup(t, catalog.PartyModeFanStage)
	if _, err := Decode(party, answer(party, "0")); !errors.Is(err, ErrDecoding) {
		t.Fatalf("party stage 0 outside domain: err=%v", err)
	}

	mode := lookup(t, catalog.OperatingMode)
	if _, err := Decode(mode, answer(mode, "4")); !errors.Is(err, ErrDecoding) {
		t.Fatalf("mode outside table: err=%v", err)
	}
}

// Every value in the domain of a writable descriptor survives an
// encode/decode round trip.
func TestRoundTripWritableDescriptors(t *testing.T) {
	for _, d := range catalog.Default().Writable() {
		t.Run(d.Name, func(t *testing.T) {
			for _, v := range domainValues(t, d) {
				words, err := Encode(d, v)
				if err != nil {
					t.Fatalf("Encode(%v): %v", v, err)
				}
				// The device echoes the frame we wrote.
				padded := make([]uint16, d.WordCount())
				copy(padded, words)
				got, err := Decode(d, padded)
				if err != nil {
					t.Fatalf("Decode(Encode(%v)): %v", v, err)
				}
				if got != v {
					t.Fatalf("round trip %v -> %v", v, got)
				}
			}
		})
	}
}

func domainValues(t *testing.T, d catalog.Descriptor) []Value {
	t.Helper()
	var out []Value
	switch d.Kind {
	case catalog.KindInt:
		for n := d.Domain.Min; n <= d.Domain.Max; n++ {
			out = append(out, Int(n))
		}
	case catalog.KindStage:
		for n := d.Domain.Min; n <= d.Domain.Max; n++ {
			out = append(out, Stage(ventilation.Stage(n)))
		}
	case catalog.KindMode:
		out = append(out, Mode(ventilation.ModeAuto), Mode(ventilation.ModeManual))
	case catalog.KindBool:
		out = append(out, Bool(false), Bool(true))
	default:
		t.Fatalf("no domain generator for %s", d.Kind)
	}
	return out
}

func TestEncodeRejects(t *testing.T) {
	cases := []struct {
		name string
		v    Value
	}{
		{catalog.FanStage, Stage(ventilation.Stage(5))},
		{catalog.PartyModeFanStage, Stage(ventilation.StageOff)},
		{catalog.PartyModeDuration, Int(181)},
		{catalog.PartyModeDuration, Int(4)},
		{catalog.PartyMode, Int(1)},
		{catalog.BypassFromMonth, Int(13)},
		{catalog.OperatingMode, Mode(ventilation.OperatingMode(3))},
	}

	for _, tc := range cases {
		d := lookup(t, tc.name)
		if _, err := Encode(d, tc.v); !errors.Is(err, ErrEncoding) {
			t.Fatalf("Encode(%s, %v) err=%v want ErrEncoding", tc.name, tc.v, err)
		}
	}
}

func TestEncodeReadOnly(t *testing.T) {
	d := lookup(t, catalog.BypassState)
	_, err := Encode(d, Bool(true))
	if !errors.Is(err, ErrReadOnly) || !errors.Is(err, ErrEncoding) {
		t.Fatalf("err=%v want ErrReadOnly wrapping ErrEncoding", err)
	}
}

func TestEncodeFrame(t *testing.T) {
	d := lookup(t, catalog.FanStage)
	words, err := Encode(d, Stage(ventilation.StageMaximum))
	if err != nil {
		t.Fatal(err)
	}
	if got := unpack(words); got != "v00102=4" {
		t.Fatalf("frame=%q", got)
	}
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want Value
	}{
		{catalog.FanStage, "intensive", Stage(ventilation.StageIntensive)},
		{catalog.FanStage, float64(2), Stage(ventilation.StageRated)},
		{catalog.OperatingMode, "manual", Mode(ventilation.ModeManual)},
		{catalog.PartyMode, true, Bool(true)},
		{catalog.PartyMode, "off", Bool(false)},
		{catalog.PartyModeDuration, float64(60), Int(60)},
		{catalog.BypassToDay, "12", Int(12)},
	}
	for _, tc := range cases {
		got, err := Coerce(lookup(t, tc.name), tc.in)
		if err != nil {
			t.Fatalf("Coerce(%s, %v): %v", tc.name, tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Coerce(%s, %v)=%v want %v", tc.name, tc.in, got, tc.want)
		}
	}

	if _, err := Coerce(lookup(t, catalog.PartyModeDuration), 12.5); !errors.Is(err, ErrEncoding) {
		t.Fatalf("fractional int: err=%v", err)
	}
	if _, err := Coerce(lookup(t, catalog.FanStage), "turbo"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("bad stage: err=%v", err)
	}
}

// 1<<32 would wrap to 0 ("off") if narrowed to a 32-bit int unchecked.
func TestWideIntegersDoNotWrap(t *testing.T) {
	const wide = int64(1) << 32
	fan := lookup(t, catalog.FanStage)
	mode := lookup(t, catalog.OperatingMode)

	if _, err := DecodeText(fan, "4294967296"); !errors.Is(err, ErrDecoding) {
		t.Fatalf("decode stage: err=%v want ErrDecoding", err)
	}
	if _, err := DecodeText(mode, "4294967297"); !errors.Is(err, ErrDecoding) {
		t.Fatalf("decode mode: err=%v want ErrDecoding", err)
	}
	if _, err := Encode(fan, Int(wide)); !errors.Is(err, ErrEncoding) {
		t.Fatalf("encode stage: err=%v want ErrEncoding", err)
	}
	if _, err := Encode(mode, Int(wide+1)); !errors.Is(err, ErrEncoding) {
		t.Fatalf("encode mode: err=%v want ErrEncoding", err)
	}
	for _, in := range []any{wide, float64(wide), -wide} {
		if _, err := Coerce(fan, in); !errors.Is(err, ErrEncoding) {
			t.Fatalf("Coerce(fan_stage, %v): err=%v want ErrEncoding", in, err)
		}
	}
	if _, err := Coerce(mode, wide+1); !errors.Is(err, ErrEncoding) {
		t.Fatalf("Coerce(operating_mode): err=%v want ErrEncoding", err)
	}
}
