package itemstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long a fetched item stays cached.
const DefaultCacheTTL = 15 * time.Second

// ServerConfig configures the reference item service.
type ServerConfig struct {
	// CacheTTL is the lifetime of a cache entry. Zero means DefaultCacheTTL.
	CacheTTL time.Duration
	// UpstreamLatency is added to every database read and write.
	UpstreamLatency time.Duration
	// Seed is the number of items created at startup, with ids 1..Seed.
	Seed   int
	Logger zerolog.Logger
}

// Server is an in-process item service with a read-through TTL cache in
// front of an in-memory database. It serves the same API the load test
// targets.
type Server struct {
	cfg    ServerConfig
	log    zerolog.Logger
	router *mux.Router

	dbMu   sync.RWMutex
	db     map[int64]Item
	nextID int64

	cacheMu sync.Mutex
	cache   map[int64]cacheEntry
	now     func() time.Time

	dbFetches    atomic.Int64
	cacheFetches atomic.Int64
}

type cacheEntry struct {
	item    Item
	expires time.Time
}

type getResponse struct {
	Item            *Item  `json:"item"`
	DBFetchCount    int64  `json:"dbFetchCount"`
	CacheFetchCount int64  `json:"cacheFetchCount"`
	Message         string `json:"message"`
	Source          Source `json:"source"`
}

// Stats are the service's fetch counters.
type Stats struct {
	Items           int   `json:"items"`
	CachedItems     int   `json:"cachedItems"`
	DBFetchCount    int64 `json:"dbFetchCount"`
	CacheFetchCount int64 `json:"cacheFetchCount"`
}

// NewServer creates a service seeded with cfg.Seed items.
func NewServer(cfg ServerConfig) *Server {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	s := &Server{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "itemstore").Logger(),
		db:    make(map[int64]Item, cfg.Seed),
		cache: make(map[int64]cacheEntry),
		now:   time.Now,
	}
	for i := 1; i <= cfg.Seed; i++ {
		id := int64(i)
		s.db[id] = Item{ID: id, Name: fmt.Sprintf("Item %d", id), Description: fmt.Sprintf("Seeded item %d", id)}
	}
	s.nextID = int64(cfg.Seed)

	r := mux.NewRouter()
	// reset-counters must be registered before the {id} routes.
	r.HandleFunc("/items/reset-counters", s.handleResetCounters).Methods(http.MethodPost)
	r.HandleFunc("/items", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/items/{id:[0-9]+}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/items/{id:[0-9]+}", s.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Stats())
	}).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the service's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	s.dbMu.RLock()
	items := len(s.db)
	s.dbMu.RUnlock()
	s.cacheMu.Lock()
	cached := len(s.cache)
	s.cacheMu.Unlock()
	return Stats{
		Items:           items,
		CachedItems:     cached,
		DBFetchCount:    s.dbFetches.Load(),
		CacheFetchCount: s.cacheFetches.Load(),
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Int("items", s.cfg.Seed).Dur("cache_ttl", s.cfg.CacheTTL).Msg("Item service listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown item service: %w", err)
	}
	s.log.Info().Msg("Item service stopped")
	return nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if item, hit := s.cached(id); hit {
		s.log.Debug().Int64("id", id).Msg("Cache hit")
		writeJSON(w, http.StatusOK, getResponse{
			Item:            &item,
			DBFetchCount:    s.dbFetches.Load(),
			CacheFetchCount: s.cacheFetches.Add(1),
			Message:         MessageFromCache,
			Source:          SourceCache,
		})
		return
	}

	s.log.Debug().Int64("id", id).Msg("Cache miss, fetching from database")
	if err := s.upstreamDelay(r.Context()); err != nil {
		return
	}
	s.dbMu.RLock()
	item, found := s.db[id]
	s.dbMu.RUnlock()
	if !found {
		writeJSON(w, http.StatusNotFound, getResponse{
			DBFetchCount:    s.dbFetches.Load(),
			CacheFetchCount: s.cacheFetches.Load(),
			Message:         MessageNotFound,
			Source:          SourceNotFound,
		})
		return
	}

	s.store(item)
	writeJSON(w, http.StatusOK, getResponse{
		Item:            &item,
		DBFetchCount:    s.dbFetches.Add(1),
		CacheFetchCount: s.cacheFetches.Load(),
		Message:         MessageFromDatabase,
		Source:          SourceUpstream,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, ok := decodeItem(w, r)
	if !ok {
		return
	}
	item.ID = id

	if err := s.upstreamDelay(r.Context()); err != nil {
		return
	}
	s.dbMu.Lock()
	s.db[id] = item
	if id > s.nextID {
		s.nextID = id
	}
	s.dbMu.Unlock()
	s.evict(id)

	s.log.Debug().Int64("id", id).Msg("Item updated, cache entry evicted")
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	item, ok := decodeItem(w, r)
	if !ok {
		return
	}
	if err := s.upstreamDelay(r.Context()); err != nil {
		return
	}

	s.dbMu.Lock()
	s.nextID++
	item.ID = s.nextID
	s.db[item.ID] = item
	s.dbMu.Unlock()

	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	s.dbFetches.Store(0)
	s.cacheFetches.Store(0)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) cached(id int64) (Item, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	e, ok := s.cache[id]
	if !ok {
		return Item{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.cache, id)
		return Item{}, false
	}
	return e.item, true
}

func (s *Server) store(item Item) {
	s.cacheMu.Lock()
	s.cache[item.ID] = cacheEntry{item: item, expires: s.now().Add(s.cfg.CacheTTL)}
	s.cacheMu.Unlock()
}

func (s *Server) evict(id int64) {
	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()
}

func (s *Server) upstreamDelay(ctx context.Context) error {
	if s.cfg.UpstreamLatency <= 0 {
		return nil
	}
	timer := time.NewTimer(s.cfg.UpstreamLatency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeItem(w http.ResponseWriter, r *http.Request) (Item, bool) {
	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "invalid item: "+err.Error(), http.StatusBadRequest)
		return Item{}, false
	}
	return item, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
