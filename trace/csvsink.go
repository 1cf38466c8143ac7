package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// CSVSink stores events in a CSV file.
type CSVSink struct {
	path string
	file *os.File
	w    *csv.Writer

	events     []Event
	bufferSize int
}

// NewCSVSink creates a sink that writes to path + ".csv". An empty path
// picks a unique name.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{
		path:       path,
		bufferSize: 1000,
	}
}

// Path returns the name of the file being written.
func (s *CSVSink) Path() string {
	return s.path + ".csv"
}

// Init creates the CSV file. An existing file is never overwritten. The file
// is flushed and closed when the program exits through atexit.
func (s *CSVSink) Init() error {
	if s.path == "" {
		s.path = "axisim_trace_" + xid.New().String()
	}

	filename := s.Path()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}

	s.file = file
	s.w = csv.NewWriter(file)

	if err := s.w.Write([]string{"Time", "Source", "Action", "Detail"}); err != nil {
		return fmt.Errorf("failed to write trace header: %w", err)
	}

	atexit.Register(func() {
		_ = s.Close()
	})

	return nil
}

// Write buffers an event.
func (s *CSVSink) Write(e Event) {
	s.events = append(s.events, e)
	if len(s.events) >= s.bufferSize {
		_ = s.Flush()
	}
}

// Flush writes the buffered events to the file.
func (s *CSVSink) Flush() error {
	if s.w == nil {
		return nil
	}

	for _, e := range s.events {
		record := []string{
			strconv.FormatFloat(float64(e.Time), 'g', 12, 64),
			e.Source,
			e.Action,
			e.Detail,
		}

		if err := s.w.Write(record); err != nil {
			return fmt.Errorf("failed to write trace record: %w", err)
		}
	}

	s.events = nil
	s.w.Flush()

	return s.w.Error()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}

	flushErr := s.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.w = nil

	if flushErr != nil {
		return flushErr
	}

	return closeErr
}
