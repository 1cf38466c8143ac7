package axi

import "fmt"

// A Beat is the payload of one transfer on one channel. Which fields are
// meaningful depends on the channel: address channels carry ID, Addr and
// Len; data channels carry ID, Data and Last; B carries only ID.
type Beat struct {
	ID   uint32
	Addr uint64

	// Len is the burst length minus one, as encoded in AxLEN.
	Len uint8

	Data Word
	Last bool
}

// Length returns the burst length encoded by Len.
func (b Beat) Length() int {
	return int(b.Len) + 1
}

// On returns a copy of the beat with every field that the channel does not
// carry cleared.
func (b Beat) On(c Channel) Beat {
	switch c {
	case AW, AR:
		return Beat{ID: b.ID, Addr: b.Addr, Len: b.Len}
	case W, R:
		return Beat{ID: b.ID, Data: b.Data, Last: b.Last}
	case B:
		return Beat{ID: b.ID}
	default:
		return Beat{}
	}
}

func (b Beat) String() string {
	return fmt.Sprintf("id=%d, addr=%s, len=%d, data=%s, last=%t",
		b.ID, FormatAddress(b.Addr), b.Len, b.Data, b.Last)
}
