// Package axi provides the data model shared by every part of the AXI bus
// simulation: burst transactions, per-channel beats, channel tags, data words
// and protocol errors.
//
// For a detailed explanation of the protocol, see ARM IHI 0022, AMBA AXI
// and ACE Protocol.
package axi

import (
	"fmt"
	"strconv"
	"strings"
)

// Bus geometry.
const (
	// AddrWidth is the width of an address in bits.
	AddrWidth = 64

	// DataWidth is the width of one data beat in bits.
	DataWidth = 128

	// WordBytes is the number of bytes carried by one data beat. Consecutive
	// beats of a burst address consecutive WordBytes-sized locations.
	WordBytes = DataWidth / 8

	// MaxBurstLength is the maximum number of beats in a burst. AxLEN is
	// 8 bits wide, so 256 is the largest encodable length.
	MaxBurstLength = 256
)

// Word is one DataWidth-bit data beat, split into two 64-bit halves.
type Word struct {
	Hi uint64
	Lo uint64
}

// WordFromUint64 returns a word whose low half is v.
func WordFromUint64(v uint64) Word {
	return Word{Lo: v}
}

// IsZero returns true if every bit of the word is clear.
func (w Word) IsZero() bool {
	return w.Hi == 0 && w.Lo == 0
}

// String formats the word as DataWidth/4 hex digits without a prefix.
func (w Word) String() string {
	return fmt.Sprintf("%016x%016x", w.Hi, w.Lo)
}

// ParseWord parses a hex string of at most DataWidth/4 digits. A leading
// "0x" is accepted.
func ParseWord(s string) (Word, error) {
	digits := trimHexPrefix(strings.TrimSpace(s))
	if digits == "" {
		return Word{}, fmt.Errorf("empty data word")
	}

	if len(digits) > DataWidth/4 {
		return Word{}, fmt.Errorf("data word %q wider than %d bits", s, DataWidth)
	}

	var w Word

	lowStart := 0
	if len(digits) > 16 {
		lowStart = len(digits) - 16

		hi, err := strconv.ParseUint(digits[:lowStart], 16, 64)
		if err != nil {
			return Word{}, fmt.Errorf("invalid data word %q: %w", s, err)
		}

		w.Hi = hi
	}

	lo, err := strconv.ParseUint(digits[lowStart:], 16, 64)
	if err != nil {
		return Word{}, fmt.Errorf("invalid data word %q: %w", s, err)
	}

	w.Lo = lo

	return w, nil
}

// FormatAddress formats an address as 0x followed by AddrWidth/4 hex digits.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("0x%016x", addr)
}

// ParseAddress parses a hex address. A leading "0x" is accepted.
func ParseAddress(s string) (uint64, error) {
	digits := trimHexPrefix(strings.TrimSpace(s))
	if digits == "" {
		return 0, fmt.Errorf("empty address")
	}

	addr, err := strconv.ParseUint(digits, 16, AddrWidth)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}

	return addr, nil
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}

	return s
}
