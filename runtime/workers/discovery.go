package workers

import (
	"context"
	"fmt"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/observability"
	"sync"
	"sync/atomic"
	"time"
)

var _ contract.Worker = (*DiscoveryWorker)(nil)

// DiscoveryWorker rebuilds the roster from the directory on every tick.
// At most one lookup is in flight: a tick firing while the previous refresh
// is still running is skipped. With renew set, each refresh registers self
// again first, which keeps expiring directory entries alive.
type DiscoveryWorker struct {
	log        *slog.Logger
	self       domain.PeerID
	capability string
	interval   time.Duration
	directory  contract.Directory
	roster     contract.IRoster
	observer   contract.Observer
	monitoring *observability.MonitoringManager
	renew      bool
	inFlight   atomic.Bool
}

func NewDiscoveryWorker(
	log *slog.Logger,
	self domain.PeerID,
	capability string,
	interval time.Duration,
	directory contract.Directory,
	roster contract.IRoster,
	observer contract.Observer,
	monitoring *observability.MonitoringManager,
	renew bool,
) *DiscoveryWorker {
	return &DiscoveryWorker{
		log:        log,
		self:       self,
		capability: capability,
		interval:   interval,
		directory:  directory,
		roster:     roster,
		observer:   observer,
		monitoring: monitoring,
		renew:      renew,
	}
}

func (w *DiscoveryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping discovery")
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !w.inFlight.CompareAndSwap(false, true) {
				w.monitoring.IncrSkippedTicks()
				w.log.Debug("Refresh still in flight, skipping tick")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer w.inFlight.Store(false)
				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Refresh panicked", "panic", r)
					}
				}()
				_ = w.Refresh(ctx)
			}()
		}
	}
}

// Refresh performs one lookup. On success the roster is replaced wholesale
// and the observer receives the new list. On failure the roster is left
// untouched so a transient registry error does not empty the peer list.
func (w *DiscoveryWorker) Refresh(ctx context.Context) error {
	if w.renew {
		w.renewRegistration(ctx)
	}

	peers, err := w.directory.Lookup(ctx, w.capability)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("%w: %w", errors.ErrLookup, err)
		w.monitoring.IncrLookupFailures()
		w.log.Warn("Peer lookup failed", "capability", w.capability, "error", err)
		w.observer.OnError(err.Error())
		return err
	}

	current := w.roster.Replace(peers)
	w.monitoring.IncrRefreshes()
	w.log.Debug("Roster refreshed", "peers", len(current))
	w.observer.OnRosterChanged(domain.DisplayNames(current))
	return nil
}

// renewRegistration failures are reported but never block the lookup.
func (w *DiscoveryWorker) renewRegistration(ctx context.Context) {
	if err := w.directory.Register(ctx, w.self, w.capability); err != nil && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", errors.ErrRegistration, err)
		w.log.Warn("Registration renewal failed", "capability", w.capability, "error", err)
		w.observer.OnError(err.Error())
	}
}
