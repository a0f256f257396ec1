package catalog

import (
	"math/bits"
	"sort"
	"strings"
)

// Labels maps single bits of a flag word to their message.
type Labels map[uint32]string

// Describe renders the messages of every bit set in flags, one per line,
// in bit order. A flag word without any set bit renders as "-".
func (l Labels) Describe(flags uint32) string {
	if flags == 0 {
		return "-"
	}
	var msgs []string
	for _, bit := range l.bits() {
		if flags&bit == bit {
			msgs = append(msgs, l[bit])
		}
	}
	if len(msgs) == 0 {
		return "-"
	}
	return strings.Join(msgs, "\n")
}

// Set returns the messages of every bit set in flags.
func (l Labels) Set(flags uint32) []string {
	var msgs []string
	for _, bit := range l.bits() {
		if flags&bit == bit {
			msgs = append(msgs, l[bit])
		}
	}
	return msgs
}

func (l Labels) bits() []uint32 {
	out := make([]uint32, 0, len(l))
	for bit := range l {
		out = append(out, bit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l Labels) valid() bool {
	if len(l) == 0 {
		return false
	}
	for bit := range l {
		if bits.OnesCount32(bit) != 1 {
			return false
		}
	}
	return true
}

const InfoFilterChange uint32 = 0x01

var errorLabels = Labels{
	0x00000001: "Fan speed error «Supply air» (outside air)",
	0x00000002: "Fan speed error «Extract air» (outgoing air)",
	0x00000004: "?",
	0x00000008: "SD card error when writing E-Eprom data with «FLASH ring buffer FULL»",
	0x00000010: "Bus overcurrent",
	0x00000020: "?",
	0x00000040: "BASIS: 0-Xing error VHZ EH (zero-crossing detection)",
	0x00000080: "Ext. module (VHZ): 0-Xing error VHZ EH",
	0x00000100: "Ext. module (NHZ): 0-Xing error NHZ EH",
	0x00000200: "BASIS: Internal temp. sensor error (T1) outside air (missing or cable break)",
	0x00000400: "BASIS: Internal temp. sensor error (T2) supply air (missing or cable break)",
	0x00000800: "BASIS: Internal temp. sensor error (T3) extract air (missing or cable break)",
	0x00001000: "BASIS: Internal temp. sensor error (T4) outgoing air (missing or cable break)",
	0x00002000: "BASIS: Internal temp. sensor error (T1) outside air (short circuit)",
	0x00004000: "BASIS: Internal temp. sensor error (T2) supply air (short circuit)",
	0x00008000: "BASIS: Internal temp. sensor error (T3) extract air (short circuit)",
	0x00010000: "BASIS: Internal temp. sensor error (T4) outgoing air (short circuit)",
	0x00020000: "Ext. module configured as VHZ, but missing or malfunctioned",
	0x00040000: "Ext. module configured as NHZ, but missing or malfunctioned",
	0x00080000: "Ext. module (VHZ): Duct sensor (T5) outside air (missing or cable break)",
	0x00100000: "Ext. module (NHZ): Duct sensor (T6) supply air (missing or cable break)",
	0x00200000: "Ext. module (NHZ): Duct sensor (T7) return WW register (missing or cable break)",
	0x00400000: "Ext. module (VHZ): Duct sensor (T5) outside air (short circuit)",
	0x00800000: "Ext. module (NHZ): Duct sensor (T6) supply air (short circuit)",
	0x01000000: "Ext. module (NHZ): Duct sensor (T7) return WW register (short circuit)",
	0x02000000: "Ext. module (VHZ): Safety limiter automatic",
	0x04000000: "Ext. module (VHZ): Safety limiter manual",
	0x08000000: "Ext. module (NHZ): Safety limiter automatic",
	0x10000000: "Ext. module (NHZ): Safety limiter manual",
	0x20000000: "Ext. module (NHZ): Frost protection WW register, measured via WW return (T7)",
	0x40000000: "Ext. module (NHZ): Frost protection WW register, measured via supply air sensor (T6)",
	0x80000000: "Frost protection external WW register (fixed < 5°C, PHI only), measured via supply air duct sensor (T6 or T2)",
}

var warningLabels = Labels{
	0x01: "Internal humidity sensor provides no value",
	0x02: "?",
	0x04: "?",
	0x08: "?",
	0x10: "?",
	0x20: "?",
	0x40: "?",
	0x80: "?",
}

var infoLabels = Labels{
	InfoFilterChange: "Filter change",
	0x02:             "Frost protection WT",
	0x04:             "SD card error",
	0x08:             "Failure of external module (more info in LOG-File)",
	0x10:             "?",
	0x20:             "?",
	0x40:             "?",
	0x80:             "?",
}
