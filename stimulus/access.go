// Package stimulus provides the Manager: it reads a list of timed accesses,
// issues them to the bus and checks what comes back.
package stimulus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/axisim/axi"
)

// An Access is one burst to issue no earlier than cycle Stamp.
type Access struct {
	Stamp  uint64
	Write  bool
	Addr   uint64
	Length int
	Data   []axi.Word
}

// Transaction converts the access into a bus transaction.
func (a Access) Transaction() axi.Transaction {
	if a.Write {
		return axi.NewWrite(a.Addr, a.Data...)
	}

	return axi.NewRead(a.Addr, a.Length)
}

// ParseCSV reads rows of the form stamp,R|W,address,length[,data...]. A
// write carries one data word per beat.
func ParseCSV(r io.Reader) ([]Access, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var accesses []Access

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return accesses, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read accesses: %w", err)
		}

		a, err := parseAccess(record)
		if err != nil {
			return nil, fmt.Errorf("access row %d: %w", line, err)
		}

		accesses = append(accesses, a)
	}
}

func parseAccess(record []string) (Access, error) {
	if len(record) < 4 {
		return Access{}, fmt.Errorf("want at least 4 fields, got %d", len(record))
	}

	var a Access
	var err error

	a.Stamp, err = strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return Access{}, fmt.Errorf("invalid stamp: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(record[1])) {
	case "W":
		a.Write = true
	case "R":
	default:
		return Access{}, fmt.Errorf("invalid access type %q", record[1])
	}

	a.Addr, err = axi.ParseAddress(record[2])
	if err != nil {
		return Access{}, err
	}

	a.Length, err = strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil {
		return Access{}, fmt.Errorf("invalid length: %w", err)
	}

	if a.Length < 1 || a.Length > axi.MaxBurstLength {
		return Access{}, fmt.Errorf("length %d outside [1, %d]",
			a.Length, axi.MaxBurstLength)
	}

	data := record[4:]
	if !a.Write {
		if len(data) != 0 {
			return Access{}, fmt.Errorf("read carries data")
		}

		return a, nil
	}

	if len(data) != a.Length {
		return Access{}, fmt.Errorf("write of length %d carries %d data words",
			a.Length, len(data))
	}

	for _, field := range data {
		w, err := axi.ParseWord(field)
		if err != nil {
			return Access{}, err
		}

		a.Data = append(a.Data, w)
	}

	return a, nil
}

// WriteCSV writes accesses in the format read by ParseCSV.
func WriteCSV(w io.Writer, accesses []Access) error {
	writer := csv.NewWriter(w)

	for _, a := range accesses {
		kind := "R"
		if a.Write {
			kind = "W"
		}

		record := []string{
			strconv.FormatUint(a.Stamp, 10),
			kind,
			axi.FormatAddress(a.Addr),
			strconv.Itoa(a.Length),
		}

		for _, d := range a.Data {
			record = append(record, d.String())
		}

		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write access: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

// LoadFile reads accesses from a CSV file.
func LoadFile(path string) ([]Access, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open access file: %w", err)
	}
	defer f.Close()

	return ParseCSV(f)
}

// GenerateOptions shapes a random access list.
type GenerateOptions struct {
	N              int
	LengthMax      int
	VariableLength bool
	StampStepMin   uint64
	StampStepMax   uint64

	// AddrSlots is the number of burst-aligned start addresses to pick from.
	AddrSlots int
}

// DefaultGenerateOptions returns ten short bursts of variable length.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		N:              10,
		LengthMax:      4,
		VariableLength: true,
		StampStepMin:   0,
		StampStepMax:   4,
		AddrSlots:      64,
	}
}

// Generate produces a random access list. Reads only target bursts written
// earlier in the list, so every read can be checked.
func Generate(rng *rand.Rand, opts GenerateOptions) []Access {
	if opts.LengthMax < 1 {
		opts.LengthMax = 1
	}

	if opts.LengthMax > axi.MaxBurstLength {
		opts.LengthMax = axi.MaxBurstLength
	}

	if opts.AddrSlots < 1 {
		opts.AddrSlots = 1
	}

	if opts.StampStepMax < opts.StampStepMin {
		opts.StampStepMax = opts.StampStepMin
	}

	var (
		accesses []Access
		written  []Access
		stamp    uint64
	)

	slot := uint64(opts.LengthMax) * axi.WordBytes

	for i := 0; i < opts.N; i++ {
		stamp += opts.StampStepMin
		if span := opts.StampStepMax - opts.StampStepMin; span > 0 {
			stamp += uint64(rng.Int63n(int64(span) + 1))
		}

		length := opts.LengthMax
		if opts.VariableLength {
			length = rng.Intn(opts.LengthMax) + 1
		}

		if len(written) == 0 || rng.Intn(2) == 0 {
			a := Access{
				Stamp:  stamp,
				Write:  true,
				Addr:   uint64(rng.Intn(opts.AddrSlots)) * slot,
				Length: length,
			}

			for j := 0; j < length; j++ {
				a.Data = append(a.Data, axi.Word{Hi: rng.Uint64(), Lo: rng.Uint64()})
			}

			accesses = append(accesses, a)
			written = append(written, a)

			continue
		}

		target := written[rng.Intn(len(written))]
		accesses = append(accesses, Access{
			Stamp:  stamp,
			Addr:   target.Addr,
			Length: min(length, target.Length),
		})
	}

	return accesses
}
