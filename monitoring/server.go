// Package monitoring turns a running bus into an HTTP server that reports
// its state while the simulation runs.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sarchlab/axisim/bus"
	"github.com/sarchlab/axisim/internal/logging"
	"github.com/shirou/gopsutil/process"
)

// A Source is anything that can describe the state of a bus.
type Source interface {
	Snapshot() bus.Snapshot
}

// Server serves the monitoring API.
type Server struct {
	source   Source
	registry *prometheus.Registry
	port     int
	log      *slog.Logger
}

// NewServer creates a Server. The registry backs /metrics and may be nil.
func NewServer(source Source, registry *prometheus.Registry) *Server {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Server{
		source:   source,
		registry: registry,
		log:      logging.NewNop(),
	}
}

// WithPortNumber sets the port to listen on. Ports below 1000 are refused
// and a random port is used instead.
func (s *Server) WithPortNumber(port int) *Server {
	if port != 0 && port < 1000 {
		s.log.Warn("refusing privileged monitoring port, using a random one",
			"port", port)
		port = 0
	}

	s.port = port

	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.log = l
	return s
}

// Router returns the handler of every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/bus", s.busState).Methods(http.MethodGet)
	r.HandleFunc("/api/outstanding/{dir}", s.outstanding).Methods(http.MethodGet)
	r.HandleFunc("/api/hangdetector/buffers", s.hangDetectorBuffers).
		Methods(http.MethodGet)
	r.HandleFunc("/api/resource", s.listResources).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

// Start listens and serves until ctx is done. It returns the address it
// listens on.
func (s *Server) Start(ctx context.Context) (net.Addr, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(os.Stderr,
		"Monitoring simulation with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err := srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("monitoring server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	return listener.Addr(), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", "error", err)
	}
}

func (s *Server) busState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.source.Snapshot())
}

func (s *Server) outstanding(w http.ResponseWriter, r *http.Request) {
	snapshot := s.source.Snapshot()

	switch mux.Vars(r)["dir"] {
	case "read":
		s.writeJSON(w, snapshot.Read)
	case "write":
		s.writeJSON(w, snapshot.Write)
	default:
		http.Error(w, "direction must be read or write", http.StatusNotFound)
	}
}

type bufferRsp struct {
	Buffer string `json:"buffer"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (s *Server) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, err := buffersParseParams(r)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	queues := sortQueues(s.source.Snapshot().Queues(), sortMethod)
	if limit > 0 && limit < len(queues) {
		queues = queues[:limit]
	}

	rsp := make([]bufferRsp, 0, len(queues))
	for _, q := range queues {
		rsp = append(rsp, bufferRsp{Buffer: q.Name, Level: q.Size, Cap: q.Capacity})
	}

	s.writeJSON(w, rsp)
}

func buffersParseParams(r *http.Request) (sortMethod string, limit int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return "", 0, fmt.Errorf("invalid limit: %w", err)
		}
	}

	return sortMethod, limit, nil
}

func percent(q bus.QueueState) float64 {
	if q.Capacity == 0 {
		return 0
	}

	return float64(q.Size) / float64(q.Capacity)
}

// sortQueues orders the fullest queues first. Ties on the primary key fall
// back to the other key, then to the name.
func sortQueues(queues []bus.QueueState, sortMethod string) []bus.QueueState {
	sorted := make([]bus.QueueState, len(queues))
	copy(sorted, queues)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		pa, pb := percent(a), percent(b)

		if sortMethod == "level" {
			if a.Size != b.Size {
				return a.Size > b.Size
			}

			if pa != pb {
				return pa > pb
			}
		} else {
			if pa != pb {
				return pa > pb
			}

			if a.Size != b.Size {
				return a.Size > b.Size
			}
		}

		return a.Name < b.Name
	})

	return sorted
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, resourceRsp{CPUPercent: cpuPercent, MemorySize: memory.RSS})
}
