package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/chatapi"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// readinessCheck reports whether one dependency can serve traffic.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

type httpDeps struct {
	log     Logger
	cfg     Config
	gateway *realtime.Gateway
	api     *chatapi.Handler
	metrics *prometheus.Registry
	checks  []readinessCheck
	// dbMissing is set when the store runs without a database.
	dbMissing bool
}

func registerHTTP(mux *http.ServeMux, d httpDeps) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.ReadinessRequireDB && d.dbMissing {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		for _, c := range d.checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := c.check(ctx)
			cancel()
			if err != nil {
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.not_ready", "dependency", c.name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if d.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{Registry: d.metrics}))
	}

	if d.api != nil {
		d.api.Register(mux)
	}

	if d.gateway != nil {
		mux.Handle("/ws", d.gateway)
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base onto ws(s).
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
