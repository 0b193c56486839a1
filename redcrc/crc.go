// Package redcrc implements the five table-driven CRC variants a RaSTA
// redundancy channel can be configured with: the Rocksoft CRC model
// parametrized by width, polynomial, initial value, input/output
// reflection and final XOR.
package redcrc

import (
	"github.com/railgo/rasta-redl/redtyp"
)

// options describes one Rocksoft CRC model parametrization.
type options struct {
	width    uint8
	poly     uint32
	init     uint32
	refIn    bool
	refOut   bool
	finalXor uint32
}

// optionsByType mirrors the per-check-code-type constant table in
// redcrc_red_crc.c. Type A carries no CRC and has no entry here; callers
// must never ask a Table built for type A to Calculate.
var optionsByType = map[redtyp.CheckCodeType]options{
	redtyp.CheckCodeB: {width: 32, poly: 0xEE5B42FD, init: 0x00000000, refIn: false, refOut: false, finalXor: 0x00000000},
	redtyp.CheckCodeC: {width: 32, poly: 0x1EDC6F41, init: 0xFFFFFFFF, refIn: true, refOut: true, finalXor: 0xFFFFFFFF},
	redtyp.CheckCodeD: {width: 16, poly: 0x1021, init: 0x0000, refIn: true, refOut: true, finalXor: 0x0000},
	redtyp.CheckCodeE: {width: 16, poly: 0x8005, init: 0x0000, refIn: true, refOut: true, finalXor: 0x0000},
}

// Table is a precomputed 256-entry CRC lookup table for one check-code
// type. It is immutable after NewTable returns and is safe for concurrent
// read-only use across goroutines.
type Table struct {
	typ     redtyp.CheckCodeType
	opts    options
	mask    uint32
	entries [256]uint32
}

// NewTable builds the lookup table for the given check-code type. This
// corresponds to the source's redcrc_Init and may be called any number of
// times in this reimplementation (the immutability is enforced by Table
// being a value, not a global), unlike the source's once-only global init.
func NewTable(t redtyp.CheckCodeType) (Table, error) {
	if !t.Valid() {
		return Table{}, redtyp.ErrInvalidParameter
	}
	tb := Table{typ: t}
	if t == redtyp.CheckCodeA {
		return tb, nil
	}

	opts, ok := optionsByType[t]
	if !ok {
		return Table{}, redtyp.ErrInvalidParameter
	}
	tb.opts = opts
	tb.mask = widthMask(opts.width)
	tb.entries = generateTable(opts)
	return tb, nil
}

// Type returns the check-code type this table was built for.
func (tb Table) Type() redtyp.CheckCodeType {
	return tb.typ
}

// Calculate returns the check code of data under this table's CRC
// parametrization. Calling Calculate on a table built for CheckCodeA is a
// programming error — type A carries no check code — and panics, mirroring
// the source's "calling with type A is a fatal programming error" rule;
// callers (redmsg, redcor) are expected to branch on CheckCodeA before ever
// reaching here.
func (tb Table) Calculate(data []byte) uint32 {
	if tb.typ == redtyp.CheckCodeA {
		panic("redcrc: Calculate called for check-code type A")
	}

	crc := tb.opts.init
	if tb.opts.refIn {
		for _, b := range data {
			crc = (crc >> 8) ^ tb.entries[(crc^uint32(b))&0xFF]
		}
	} else {
		shift := tb.opts.width - 8
		for _, b := range data {
			crc = ((crc << 8) ^ tb.entries[((crc>>shift)^uint32(b))&0xFF]) & tb.mask
		}
	}

	return (crc ^ tb.opts.finalXor) & tb.mask
}

// widthMask returns a mask with the low `width` bits set.
func widthMask(width uint8) uint32 {
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << width) - 1
}

// reflect reverses the low `bits` bits of value.
func reflect(value uint32, bits uint8) uint32 {
	var out uint32
	for i := uint8(0); i < bits; i++ {
		out <<= 1
		out |= value & 1
		value >>= 1
	}
	return out
}

// generateTable builds the 256-entry CRC table for the given options,
// processing byte values 0x00..0xFF through the polynomial. Reflected
// variants (refIn) build the table LSB-first using the bit-reversed
// polynomial; non-reflected variants build it MSB-first using the
// polynomial as given.
func generateTable(opts options) [256]uint32 {
	var table [256]uint32
	mask := widthMask(opts.width)

	if opts.refIn {
		poly := reflect(opts.poly&mask, opts.width)
		for i := 0; i < 256; i++ {
			crc := uint32(i)
			for bit := 0; bit < 8; bit++ {
				if crc&1 != 0 {
					crc = (crc >> 1) ^ poly
				} else {
					crc >>= 1
				}
			}
			table[i] = crc & mask
		}
		return table
	}

	topBit := uint32(1) << (opts.width - 1)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << (opts.width - 8)
		for bit := 0; bit < 8; bit++ {
			if crc&topBit != 0 {
				crc = (crc << 1) ^ opts.poly
			} else {
				crc <<= 1
			}
			crc &= mask
		}
		table[i] = crc
	}
	return table
}
