package realtime

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
)

// EngineConfig wires the realtime components to their collaborators.
type EngineConfig struct {
	Store    conversation.Store
	Receipts ReceiptRecorder // optional; defaults to Store.MarkRead
	Mirror   PresenceMirror  // optional

	LivenessWindow time.Duration
	TypingExpiry   time.Duration

	Log     *slog.Logger
	Metrics *Metrics
}

// Engine owns one instance of every realtime component.
type Engine struct {
	Store    conversation.Store
	Registry *Registry
	Rooms    *Rooms
	Presence *Presence
	Typing   *Typing
	Router   *Router
	Metrics  *Metrics

	log *slog.Logger
}

// NewEngine constructs and connects the registry, room manager, presence publisher,
// typing tracker and router.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("realtime: nil store")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	reg := NewRegistry(log, metrics)
	rooms := NewRooms(cfg.Store, log, metrics)
	presence := NewPresence(reg, cfg.Mirror, cfg.LivenessWindow, log, metrics)
	reg.SetListener(presence)
	typing := NewTyping(rooms, cfg.TypingExpiry, log, metrics)
	router := NewRouter(cfg.Store, cfg.Receipts, reg, rooms, typing, log, metrics)

	return &Engine{
		Store:    cfg.Store,
		Registry: reg,
		Rooms:    rooms,
		Presence: presence,
		Typing:   typing,
		Router:   router,
		Metrics:  metrics,
		log:      log,
	}, nil
}

// Close stops background workers owned by the engine. The store is owned by the caller.
func (e *Engine) Close() {
	e.Presence.Close()
}

// DisconnectAll closes every registered connection. Each session then runs its normal
// shutdown, so peers observe offline transitions.
func (e *Engine) DisconnectAll() int {
	clients := e.Registry.All()
	for _, c := range clients {
		c.Close()
	}
	e.log.Info("engine.disconnect_all", "connections", len(clients))
	return len(clients)
}
