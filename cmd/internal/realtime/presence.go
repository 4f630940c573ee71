package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLivenessWindow is how long a presence record stays valid without a heartbeat.
const DefaultLivenessWindow = 5 * time.Minute

const (
	mirrorQueueSize = 1024
	mirrorTimeout   = 2 * time.Second
)

// PresenceMirror publishes presence records outside this process (e.g. for other instances
// or the REST polling fallback). Records expire after the liveness window.
type PresenceMirror interface {
	Upsert(ctx context.Context, rec PresenceRecord, ttl time.Duration) error
	Remove(ctx context.Context, userID string) error
	List(ctx context.Context) ([]PresenceRecord, error)
}

// Presence broadcasts online/offline transitions and status changes, and answers snapshot
// queries.
// It is the Registry's PresenceListener.
type Presence struct {
	log     *slog.Logger
	metrics *Metrics
	reg     *Registry
	mirror  PresenceMirror
	ttl     time.Duration

	ops      chan mirrorOp
	stop     chan struct{}
	stopOnce sync.Once
	mirrorWG sync.WaitGroup
}

type mirrorOp struct {
	rec    PresenceRecord
	remove bool
}

// NewPresence constructs a publisher over reg. mirror may be nil.
func NewPresence(reg *Registry, mirror PresenceMirror, ttl time.Duration, log *slog.Logger, metrics *Metrics) *Presence {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if ttl <= 0 {
		ttl = DefaultLivenessWindow
	}
	p := &Presence{
		log:     log,
		metrics: metrics,
		reg:     reg,
		mirror:  mirror,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if mirror != nil {
		// One worker keeps mirror writes in transition order without doing I/O under the
		// registry's ordering lock.
		p.ops = make(chan mirrorOp, mirrorQueueSize)
		p.mirrorWG.Add(1)
		go p.runMirror()
	}
	return p
}

// IdentityOnline implements PresenceListener.
func (p *Presence) IdentityOnline(rec PresenceRecord) {
	p.BroadcastOnline(rec)
	p.enqueueMirror(mirrorOp{rec: rec})
}

// IdentityOffline implements PresenceListener.
func (p *Presence) IdentityOffline(rec PresenceRecord) {
	p.BroadcastOffline(rec)
	p.enqueueMirror(mirrorOp{rec: rec, remove: true})
}

// IdentityStatus implements PresenceListener.
func (p *Presence) IdentityStatus(rec PresenceRecord) {
	n := p.broadcast(UserStatus{Record: rec}, rec.UserID)
	p.metrics.PresenceEvents.WithLabelValues(string(rec.Status)).Inc()
	p.log.Info("presence.status", "user_id", rec.UserID, "status", rec.Status, "notified", n)
	p.enqueueMirror(mirrorOp{rec: rec})
}

// BroadcastOnline sends user_online to every connection except the subject's own.
func (p *Presence) BroadcastOnline(rec PresenceRecord) int {
	rec.Status = StatusOnline
	n := p.broadcast(UserOnline{Record: rec}, rec.UserID)
	p.metrics.PresenceEvents.WithLabelValues(string(StatusOnline)).Inc()
	p.log.Info("presence.online", "user_id", rec.UserID, "connection_id", rec.ConnectionID, "notified", n)
	return n
}

// BroadcastOffline sends user_offline to every connection except the subject's own.
func (p *Presence) BroadcastOffline(rec PresenceRecord) int {
	rec.Status = StatusOffline
	n := p.broadcast(UserOffline{Record: rec}, rec.UserID)
	p.metrics.PresenceEvents.WithLabelValues(string(StatusOffline)).Inc()
	p.log.Info("presence.offline", "user_id", rec.UserID, "connection_id", rec.ConnectionID, "notified", n)
	return n
}

func (p *Presence) broadcast(ev Event, subject string) int {
	all := p.reg.All()
	targets := all[:0:0]
	for _, c := range all {
		if c.UserID() != subject {
			targets = append(targets, c)
		}
	}
	return p.metrics.deliver(ev, targets)
}

// Snapshot returns every identity online in this process.
func (p *Presence) Snapshot() []PresenceRecord {
	return p.reg.OnlineIdentities()
}

// Online returns the online list for pollers: the mirror when configured, else the local
// snapshot. A mirror failure falls back to the local snapshot.
func (p *Presence) Online(ctx context.Context) []PresenceRecord {
	if p.mirror == nil {
		return p.Snapshot()
	}
	recs, err := p.mirror.List(ctx)
	if err != nil {
		p.log.Warn("presence.mirror.list.fail", "err", err)
		return p.Snapshot()
	}
	return recs
}

// Heartbeat refreshes the mirrored record of c's identity.
func (p *Presence) Heartbeat(c *Client) {
	if p.mirror == nil || c == nil {
		return
	}
	for _, rec := range p.reg.OnlineIdentities() {
		if rec.UserID == c.UserID() {
			p.enqueueMirror(mirrorOp{rec: rec})
			return
		}
	}
}

// Close stops the mirror worker after draining queued writes.
func (p *Presence) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mirrorWG.Wait()
}

func (p *Presence) enqueueMirror(op mirrorOp) {
	if p.ops == nil {
		return
	}
	select {
	case <-p.stop:
	case p.ops <- op:
	default:
		p.log.Warn("presence.mirror.drop", "user_id", op.rec.UserID, "remove", op.remove)
	}
}

func (p *Presence) runMirror() {
	defer p.mirrorWG.Done()
	for {
		select {
		case op := <-p.ops:
			p.applyMirror(op)
		case <-p.stop:
			for {
				select {
				case op := <-p.ops:
					p.applyMirror(op)
				default:
					return
				}
			}
		}
	}
}

func (p *Presence) applyMirror(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	if op.remove {
		err = p.mirror.Remove(ctx, op.rec.UserID)
	} else {
		err = p.mirror.Upsert(ctx, op.rec, p.ttl)
	}
	if err != nil {
		p.log.Warn("presence.mirror.fail", "user_id", op.rec.UserID, "remove", op.remove, "err", err)
	}
}
