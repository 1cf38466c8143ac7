package memory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sarchlab/axisim/axi"
)

// LoadCSV replaces the content of the memory with rows of the form
// 0x<address>,<data>. Malformed rows are skipped and counted.
func (s *Subordinate) LoadCSV(r io.Reader) (skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	words := make(map[uint64]axi.Word)
	line := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		line++

		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.log.Warn("skipping malformed memory row", "line", line, "error", err)
				skipped++

				continue
			}

			return skipped, fmt.Errorf("failed to read memory: %w", err)
		}

		addr, w, err := parseRow(record)
		if err != nil {
			s.log.Warn("skipping malformed memory row", "line", line, "error", err)
			skipped++

			continue
		}

		words[addr] = w
	}

	s.mu.Lock()
	s.words = words
	s.mu.Unlock()

	return skipped, nil
}

func parseRow(record []string) (uint64, axi.Word, error) {
	if len(record) != 2 {
		return 0, axi.Word{}, fmt.Errorf("want 2 fields, got %d", len(record))
	}

	addr, err := axi.ParseAddress(strings.TrimSpace(record[0]))
	if err != nil {
		return 0, axi.Word{}, err
	}

	w, err := axi.ParseWord(strings.TrimSpace(record[1]))
	if err != nil {
		return 0, axi.Word{}, err
	}

	return addr, w, nil
}

// DumpCSV writes every stored word sorted by address.
func (s *Subordinate) DumpCSV(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writer := csv.NewWriter(w)

	for _, addr := range s.sortedAddrs() {
		err := writer.Write([]string{axi.FormatAddress(addr), s.words[addr].String()})
		if err != nil {
			return fmt.Errorf("failed to write memory: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

// LoadFile loads the memory from a CSV file.
func (s *Subordinate) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open memory file: %w", err)
	}
	defer f.Close()

	return s.LoadCSV(f)
}

// DumpFile writes the memory to a CSV file.
func (s *Subordinate) DumpFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create memory file: %w", err)
	}

	if err := s.DumpCSV(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
