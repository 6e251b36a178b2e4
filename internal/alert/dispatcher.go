package alert

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/trustplane/internal/events"
)

type route struct {
	cfg     AlertConfig
	limiter *rate.Limiter
}

// Dispatcher fans out events to matching webhook configurations.
// It implements events.Sink.
type Dispatcher struct {
	routes []route
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger.With("component", "alert")}
	for _, cfg := range configs {
		r := route{cfg: cfg}
		if cfg.RatePerMinute > 0 {
			r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
		}
		d.routes = append(d.routes, r)
	}
	return d
}

// Emit sends the event to all webhooks whose Events list matches.
// Matching is based on the event outcome or type.
// Fires goroutines and does not block the caller.
func (d *Dispatcher) Emit(event events.Event) {
	for _, r := range d.routes {
		if !matches(r.cfg.Events, event) {
			continue
		}
		if r.limiter != nil && !r.limiter.Allow() {
			d.logger.Warn("alert rate limited", "url", r.cfg.URL, "type", event.Type)
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := Send(cfg, event); err != nil {
				d.logger.Error("alert delivery failed", "url", cfg.URL, "error", err)
			}
		}(r.cfg)
	}
}

// Close waits for in-flight deliveries.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return nil
}

func matches(filters []string, event events.Event) bool {
	for _, f := range filters {
		if event.Outcome != "" && f == event.Outcome {
			return true
		}
		if f == event.Type {
			return true
		}
	}
	return false
}
