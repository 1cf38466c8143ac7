package axi

import (
	"strconv"
	"strings"
)

// A Transaction is a whole burst as seen by the Manager and the Subordinate.
type Transaction struct {
	Addr   uint64
	Length int
	Write  bool
	Data   []Word

	// Progress counts the beats completed so far. It is only meaningful
	// while the burst is open inside the bus.
	Progress int
}

// NewWrite creates a write burst carrying the given data words.
func NewWrite(addr uint64, data ...Word) Transaction {
	words := make([]Word, len(data))
	copy(words, data)

	return Transaction{
		Addr:   addr,
		Length: len(data),
		Write:  true,
		Data:   words,
	}
}

// NewRead creates a read burst of the given length. The data words are
// zero until the Subordinate fills them.
func NewRead(addr uint64, length int) Transaction {
	return Transaction{
		Addr:   addr,
		Length: length,
		Data:   make([]Word, length),
	}
}

// BeatAddr returns the address accessed by beat i of the burst.
func (t Transaction) BeatAddr(i int) uint64 {
	return t.Addr + uint64(i)*WordBytes
}

// Validate checks that the burst can be carried by the bus. A write must
// carry exactly Length data words; a read may carry none.
func (t Transaction) Validate() error {
	if t.Length < 1 || t.Length > MaxBurstLength {
		return Errorf(KindMalformedTransaction,
			"length %d outside [1, %d]: %s", t.Length, MaxBurstLength, t)
	}

	if t.Write && len(t.Data) != t.Length {
		return Errorf(KindMalformedTransaction,
			"write carries %d data words for length %d: %s",
			len(t.Data), t.Length, t)
	}

	if len(t.Data) > t.Length {
		return Errorf(KindMalformedTransaction,
			"%d data words for length %d: %s", len(t.Data), t.Length, t)
	}

	return nil
}

// Clone returns a deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	c := t
	if t.Data != nil {
		c.Data = make([]Word, len(t.Data))
		copy(c.Data, t.Data)
	}

	return c
}

// Equal compares address, length, direction and data. Progress is ignored.
func (t Transaction) Equal(o Transaction) bool {
	if t.Addr != o.Addr || t.Length != o.Length || t.Write != o.Write {
		return false
	}

	if len(t.Data) != len(o.Data) {
		return false
	}

	for i := range t.Data {
		if t.Data[i] != o.Data[i] {
			return false
		}
	}

	return true
}

func (t Transaction) String() string {
	var sb strings.Builder

	sb.WriteString("addr=")
	sb.WriteString(FormatAddress(t.Addr))
	sb.WriteString(", progress=")
	sb.WriteString(strconv.Itoa(t.Progress))
	sb.WriteString("/")
	sb.WriteString(strconv.Itoa(t.Length))
	sb.WriteString(", wr=")
	sb.WriteString(strconv.FormatBool(t.Write))
	sb.WriteString(", data=")

	for i, d := range t.Data {
		if i > 0 {
			sb.WriteString(",")
		}

		sb.WriteString(d.String())
	}

	return sb.String()
}
