// Package server exposes the tidelog HTTP API: log ingestion, range
// queries with durable-store fallback, diagnostics and stats.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/tidelog/tidelog/internal/cache"
	"github.com/tidelog/tidelog/internal/config"
	"github.com/tidelog/tidelog/internal/model"
	"github.com/tidelog/tidelog/internal/store"
	"github.com/tidelog/tidelog/internal/sweep"
)

// Server serves the HTTP API in front of the temporal cache and the durable
// store. Ingestion appends to the cache and schedules an asynchronous
// eviction sweep; range queries consult the cache first and fall through to
// the store on a miss.
type Server struct {
	cache   *cache.Cache
	store   *store.LogStore
	sweeper *sweep.Sweeper
	auth    config.AuthConfig
	logger  *slog.Logger

	srv    *http.Server
	parser fastjson.ParserPool

	sessions   map[string]session
	sessionsMu sync.RWMutex

	ingested atomic.Int64
	started  time.Time
}

// New creates a Server wired to its collaborators.
func New(c *cache.Cache, st *store.LogStore, sw *sweep.Sweeper, auth config.AuthConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cache:    c,
		store:    st,
		sweeper:  sw,
		auth:     auth,
		logger:   logger,
		sessions: make(map[string]session),
		started:  time.Now(),
	}
}

// Handler returns the fully wired handler: routes plus the request-ID and
// auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/healthz", s.handleHealth)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.Handle("/api/logs", s.authMiddleware(http.HandlerFunc(s.handleLogs)))
	mux.Handle("/api/logs/all", s.authMiddleware(http.HandlerFunc(s.handleDump)))
	mux.Handle("/api/stats", s.authMiddleware(http.HandlerFunc(s.handleStats)))
	return s.requestID(mux)
}

// Start runs the HTTP server on addr and blocks until it stops.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// requestID tags each request with a UUID, echoed in X-Request-Id and
// attached to access logs.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", id)
		s.logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleLogs dispatches POST (ingest) and GET (range query) on /api/logs.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleQuery(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleIngest accepts a single log object or an array of them, appends to
// the cache, and schedules an eviction sweep. The sweep runs on its own
// goroutine; a slow durable store never blocks the ingest response.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var count int
	appendOne := func(val *fastjson.Value) error {
		e, err := entryFromJSON(val)
		if err != nil {
			return err
		}
		s.cache.Add(e)
		count++
		return nil
	}

	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		for _, val := range arr {
			if err := appendOne(val); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
	} else {
		if err := appendOne(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.ingested.Add(int64(count))
	s.sweeper.Notify()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"message": fmt.Sprintf("Successfully added %d logs", count),
		"count":   count,
	})
}

// entryFromJSON builds an Entry from one parsed JSON object. The timestamp
// may be an RFC3339 string or integer nanoseconds; a missing timestamp
// defaults to now.
func entryFromJSON(v *fastjson.Value) (model.Entry, error) {
	if v.Type() != fastjson.TypeObject {
		return model.Entry{}, fmt.Errorf("expected a log object, got %s", v.Type())
	}

	var ts time.Time
	switch tsVal := v.Get("timestamp"); {
	case tsVal == nil:
		ts = time.Now()
	case tsVal.Type() == fastjson.TypeString:
		parsed, err := time.Parse(time.RFC3339Nano, string(tsVal.GetStringBytes()))
		if err != nil {
			return model.Entry{}, fmt.Errorf("invalid timestamp: %v", err)
		}
		ts = parsed
	case tsVal.Type() == fastjson.TypeNumber:
		ts = time.Unix(0, tsVal.GetInt64())
	default:
		return model.Entry{}, fmt.Errorf("invalid timestamp type %s", tsVal.Type())
	}

	tag := string(v.GetStringBytes("tag"))
	if tag == "" {
		tag = "INFO"
	}
	msg := string(v.GetStringBytes("message"))
	if msg == "" {
		msg = string(v.GetStringBytes("msg"))
	}
	return model.Entry{Timestamp: ts, Tag: tag, Message: msg}, nil
}

// handleQuery serves GET /api/logs?start=...&end=...[&filter=...]. The
// bounds form a closed interval. An empty cache result falls through to the
// durable store.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid start: %v", err), http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid end: %v", err), http.StatusBadRequest)
		return
	}

	filter, err := newEntryFilter(q.Get("filter"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid filter: %v", err), http.StatusBadRequest)
		return
	}

	source := "cache"
	logs := s.cache.Query(start, end)
	if len(logs) == 0 {
		source = "store"
		logs, err = s.store.Query(r.Context(), start, end)
		if err != nil {
			s.logger.Error("store query failed", "err", err)
			http.Error(w, "Query failed", http.StatusInternalServerError)
			return
		}
	}
	logs = filter.apply(logs)

	writeLogs(w, logs, source)
}

// handleDump serves GET /api/logs/all: every cached entry in time order.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeLogs(w, s.cache.Dump(), "cache")
}

// statsResponse aggregates counters across components.
type statsResponse struct {
	Uptime       string      `json:"uptime"`
	Ingested     int64       `json:"ingested"`
	Cache        cache.Stats `json:"cache"`
	Sweeper      sweep.Stats `json:"sweeper"`
	StoreEntries int64       `json:"store_entries"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	storeCount, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("store count failed", "err", err)
	}

	resp := statsResponse{
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Ingested:     s.ingested.Load(),
		Cache:        s.cache.GetStats(),
		Sweeper:      s.sweeper.GetStats(),
		StoreEntries: storeCount,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parseTimeParam accepts RFC3339(Nano) or integer nanoseconds.
func parseTimeParam(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("missing required parameter")
	}
	if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ns, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return 0, err
	}
	return t.UnixNano(), nil
}

func writeLogs(w http.ResponseWriter, logs []model.Entry, source string) {
	if logs == nil {
		logs = []model.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"logs":   logs,
		"count":  len(logs),
		"source": source,
	})
}
