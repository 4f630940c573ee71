package realtime

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// PresenceStatus is the coarse availability of an identity.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// ParseSettableStatus maps a wire value onto a status a connected identity may choose.
func ParseSettableStatus(s string) (PresenceStatus, bool) {
	switch st := PresenceStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusAway, StatusBusy:
		return st, true
	default:
		return "", false
	}
}

// PresenceRecord describes an identity's presence at a point in time.
type PresenceRecord struct {
	UserID       string
	Name         string
	Status       PresenceStatus
	ConnectionID string
	LastSeen     time.Time
	Connections  int
}

// PresenceListener receives edge-triggered presence transitions from the Registry.
type PresenceListener interface {
	IdentityOnline(rec PresenceRecord)
	IdentityOffline(rec PresenceRecord)
	IdentityStatus(rec PresenceRecord)
}

// Registry tracks the live connections of every identity.
//
// Concurrency model:
//   - mu guards the maps and is never held while calling the listener.
//   - evMu serializes mutate+notify so the online/offline sequence of one identity is never
//     observed out of order.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	evMu     sync.Mutex
	listener PresenceListener

	mu     sync.RWMutex
	byUser map[string]map[string]*Client
	byID   map[string]*Client
	names  map[string]string
	// statuses holds a chosen status other than online; cleared when the identity goes offline.
	statuses map[string]PresenceStatus
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		log:     log,
		metrics: metrics,
		byUser:  make(map[string]map[string]*Client),
		byID:    make(map[string]*Client),
		names:   make(map[string]string),

		statuses: make(map[string]PresenceStatus),
	}
}

// SetListener installs the presence listener. Call before the first Register.
func (r *Registry) SetListener(l PresenceListener) {
	r.evMu.Lock()
	r.listener = l
	r.evMu.Unlock()
}

// Register adds c to its identity's connection set. The first connection of an identity
// emits IdentityOnline.
func (r *Registry) Register(c *Client) error {
	if c == nil || !c.Identity().Valid() {
		return ErrAuthRequired
	}
	if c.Closed() {
		return ErrConnectionClosed
	}
	id := c.Identity()

	r.evMu.Lock()
	defer r.evMu.Unlock()

	r.mu.Lock()
	if _, dup := r.byID[c.ID]; dup {
		r.mu.Unlock()
		return nil
	}
	set := r.byUser[id.ID]
	if set == nil {
		set = make(map[string]*Client, 1)
		r.byUser[id.ID] = set
	}
	set[c.ID] = c
	r.byID[c.ID] = c
	r.names[id.ID] = id.Name
	first := len(set) == 1
	rec := r.recordLocked(id.ID, c)
	conns, users := len(r.byID), len(r.byUser)
	r.mu.Unlock()

	r.metrics.Connections.Set(float64(conns))
	r.metrics.OnlineIdentities.Set(float64(users))
	r.log.Debug("registry.register", "connection_id", c.ID, "user_id", id.ID, "connections", rec.Connections)

	if first && r.listener != nil {
		r.listener.IdentityOnline(rec)
	}
	return nil
}

// Deregister removes c. It is idempotent and reports whether c was registered.
// Removing the last connection of an identity emits IdentityOffline.
func (r *Registry) Deregister(c *Client) bool {
	if c == nil {
		return false
	}
	userID := c.UserID()

	r.evMu.Lock()
	defer r.evMu.Unlock()

	r.mu.Lock()
	if _, ok := r.byID[c.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, c.ID)
	set := r.byUser[userID]
	delete(set, c.ID)
	last := len(set) == 0
	rec := PresenceRecord{
		UserID:       userID,
		Name:         r.names[userID],
		Status:       r.statusLocked(userID),
		ConnectionID: c.ID,
		LastSeen:     c.LastSeen(),
		Connections:  len(set),
	}
	if last {
		delete(r.byUser, userID)
		delete(r.names, userID)
		delete(r.statuses, userID)
		rec.Status = StatusOffline
	}
	conns, users := len(r.byID), len(r.byUser)
	r.mu.Unlock()

	r.metrics.Connections.Set(float64(conns))
	r.metrics.OnlineIdentities.Set(float64(users))
	r.log.Debug("registry.deregister", "connection_id", c.ID, "user_id", userID, "connections", rec.Connections)

	if last && r.listener != nil {
		r.listener.IdentityOffline(rec)
	}
	return true
}

// SetStatus records the status userID chose and emits IdentityStatus when it changed.
// It fails with a ValidationError when status is not settable or userID is offline.
func (r *Registry) SetStatus(userID, status string) (PresenceRecord, error) {
	st, ok := ParseSettableStatus(status)
	if !ok {
		return PresenceRecord{}, invalid(CodeInvalidStatus, "status must be online, away or busy")
	}

	r.evMu.Lock()
	defer r.evMu.Unlock()

	r.mu.Lock()
	if len(r.byUser[userID]) == 0 {
		r.mu.Unlock()
		return PresenceRecord{}, invalid(CodeNotOnline, "identity has no live connection")
	}
	changed := r.statusLocked(userID) != st
	if st == StatusOnline {
		delete(r.statuses, userID)
	} else {
		r.statuses[userID] = st
	}
	rec := r.recordLocked(userID, nil)
	r.mu.Unlock()

	r.log.Debug("registry.status", "user_id", userID, "status", st, "changed", changed)
	if changed && r.listener != nil {
		r.listener.IdentityStatus(rec)
	}
	return rec, nil
}

func (r *Registry) statusLocked(userID string) PresenceStatus {
	if st, ok := r.statuses[userID]; ok {
		return st
	}
	return StatusOnline
}

// ConnectionsOf returns a snapshot of userID's live connections.
func (r *Registry) ConnectionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether userID has at least one connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineIdentities returns a presence record for every online identity, ordered by user id.
func (r *Registry) OnlineIdentities() []PresenceRecord {
	r.mu.RLock()
	out := make([]PresenceRecord, 0, len(r.byUser))
	for userID := range r.byUser {
		out = append(out, r.recordLocked(userID, nil))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// recordLocked builds the online record for userID. via is the connection that caused the
// transition, if any. Caller holds mu.
func (r *Registry) recordLocked(userID string, via *Client) PresenceRecord {
	set := r.byUser[userID]
	rec := PresenceRecord{
		UserID:      userID,
		Name:        r.names[userID],
		Status:      r.statusLocked(userID),
		Connections: len(set),
	}
	for _, c := range set {
		if seen := c.LastSeen(); seen.After(rec.LastSeen) {
			rec.LastSeen = seen
			rec.ConnectionID = c.ID
		}
	}
	if via != nil {
		rec.ConnectionID = via.ID
	}
	return rec
}
