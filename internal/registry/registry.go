// Package registry tracks live notification clients and protocol sessions.
//
// It is purely observational: nothing in the ingestion path consults it.
// Closed connections move to a bounded recent-history log and are evicted
// once they are older than the retention window.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// Defaults for the recent-history log
const (
	DefaultHistorySize = 200
	DefaultRetention   = time.Hour
)

// Options configures a Registry
type Options struct {
	HistorySize int
	Retention   time.Duration
	Logger      *slog.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
	// OnActiveChange is called with the new active count whenever a kind's count changes
	OnActiveChange func(kind types.ConnectionKind, active int)
}

// Registry is a process-wide table of connections keyed by ID
type Registry struct {
	mu        sync.Mutex
	active    map[string]*types.ConnectionRecord
	history   *lru.Cache[string, types.ConnectionRecord]
	retention time.Duration
	now       func() time.Time
	onChange  func(types.ConnectionKind, int)
	logger    *slog.Logger
}

// New creates an empty registry
func New(opts Options) *Registry {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	history, _ := lru.New[string, types.ConnectionRecord](opts.HistorySize)

	return &Registry{
		active:    make(map[string]*types.ConnectionRecord),
		history:   history,
		retention: opts.Retention,
		now:       opts.Now,
		onChange:  opts.OnActiveChange,
		logger:    opts.Logger.With("component", "registry"),
	}
}

// Register records a new connection and returns its ID
func (r *Registry) Register(kind types.ConnectionKind, peer string) string {
	return r.RegisterID(uuid.NewString(), kind, peer)
}

// RegisterID records a connection under a caller-chosen ID, such as a
// protocol session ID. Re-registering a live ID refreshes it.
func (r *Registry) RegisterID(id string, kind types.ConnectionKind, peer string) string {
	now := r.now()

	r.mu.Lock()
	r.active[id] = &types.ConnectionRecord{
		ID:           id,
		Kind:         kind,
		Peer:         peer,
		Status:       types.ConnConnected,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.history.Remove(id)
	n := r.countLocked(kind)
	r.mu.Unlock()

	r.logger.Debug("connection registered", "id", id, "kind", kind, "peer", peer)
	r.notify(kind, n)
	return id
}

// MarkActivity bumps the activity timestamp and message counters.
// It reports false for unknown or closed connections.
func (r *Registry) MarkActivity(id string, sent, received int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.active[id]
	if !ok {
		return false
	}
	rec.LastActivity = r.now()
	rec.MessagesSent += sent
	rec.MessagesReceived += received
	return true
}

// Disconnect closes a connection normally
func (r *Registry) Disconnect(id, reason string) bool {
	return r.close(id, types.ConnDisconnected, reason)
}

// MarkError closes a connection that failed
func (r *Registry) MarkError(id, reason string) bool {
	return r.close(id, types.ConnError, reason)
}

func (r *Registry) close(id string, status types.ConnectionStatus, reason string) bool {
	now := r.now()

	r.mu.Lock()
	rec, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.active, id)
	rec.Status = status
	rec.Reason = reason
	rec.DisconnectedAt = &now
	r.history.Add(id, *rec)
	kind := rec.Kind
	n := r.countLocked(kind)
	r.mu.Unlock()

	r.logger.Debug("connection closed", "id", id, "kind", kind, "status", status, "reason", reason)
	r.notify(kind, n)
	return true
}

// Get returns the live or recent record for id
func (r *Registry) Get(id string) (types.ConnectionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.active[id]; ok {
		return *rec, true
	}
	r.evictLocked()
	return r.history.Get(id)
}

// Active returns the number of live connections of kind
func (r *Registry) Active(kind types.ConnectionKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(kind)
}

func (r *Registry) countLocked(kind types.ConnectionKind) int {
	n := 0
	for _, rec := range r.active {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Registry) notify(kind types.ConnectionKind, n int) {
	if r.onChange != nil {
		r.onChange(kind, n)
	}
}

// evictLocked drops history entries past the retention window
func (r *Registry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	for _, id := range r.history.Keys() {
		rec, ok := r.history.Peek(id)
		if ok && rec.DisconnectedAt != nil && rec.DisconnectedAt.Before(cutoff) {
			r.history.Remove(id)
		}
	}
}

// Group lists live and recently closed connections of one kind
type Group struct {
	Active      []types.ConnectionRecord `json:"active"`
	Recent      []types.ConnectionRecord `json:"recent"`
	TotalActive int                      `json:"total_active"`
	TotalRecent int                      `json:"total_recent"`
}

// Snapshot is the observability view served by the connections endpoint
type Snapshot struct {
	NotificationClients Group     `json:"notification_clients"`
	ProtocolSessions    Group     `json:"protocol_sessions"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// Snapshot copies the current state. Active entries are ordered by connect
// time, recent ones by disconnect time, newest first.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()

	groups := map[types.ConnectionKind]*Group{
		types.KindNotification: {Active: []types.ConnectionRecord{}, Recent: []types.ConnectionRecord{}},
		types.KindSession:      {Active: []types.ConnectionRecord{}, Recent: []types.ConnectionRecord{}},
	}
	for _, rec := range r.active {
		if g, ok := groups[rec.Kind]; ok {
			g.Active = append(g.Active, *rec)
		}
	}
	for _, id := range r.history.Keys() {
		rec, ok := r.history.Peek(id)
		if !ok {
			continue
		}
		if g, ok := groups[rec.Kind]; ok {
			g.Recent = append(g.Recent, rec)
		}
	}

	for _, g := range groups {
		sort.Slice(g.Active, func(i, j int) bool {
			if g.Active[i].ConnectedAt.Equal(g.Active[j].ConnectedAt) {
				return g.Active[i].ID < g.Active[j].ID
			}
			return g.Active[i].ConnectedAt.Before(g.Active[j].ConnectedAt)
		})
		sort.Slice(g.Recent, func(i, j int) bool {
			return g.Recent[i].DisconnectedAt.After(*g.Recent[j].DisconnectedAt)
		})
		g.TotalActive = len(g.Active)
		g.TotalRecent = len(g.Recent)
	}

	return Snapshot{
		NotificationClients: *groups[types.KindNotification],
		ProtocolSessions:    *groups[types.KindSession],
		GeneratedAt:         r.now(),
	}
}
