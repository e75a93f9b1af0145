package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/clients"
)

// Poller probes every registered provider on a fixed interval and publishes
// a fresh immutable snapshot. Request tasks read the snapshot lock-free and
// never observe a half-updated record.
type Poller struct {
	providers []clients.TranslationProvider
	interval  time.Duration
	logger    *logrus.Entry

	snapshot atomic.Pointer[map[clients.ProviderName]clients.ProviderHealth]
}

// NewPoller creates the provider health poller.
func NewPoller(providers []clients.TranslationProvider, interval time.Duration, logger *logrus.Entry) *Poller {
	p := &Poller{
		providers: providers,
		interval:  interval,
		logger:    logger,
	}
	empty := make(map[clients.ProviderName]clients.ProviderHealth)
	p.snapshot.Store(&empty)
	return p
}

// Status returns the last polled status for a provider. Unknown providers
// report unhealthy so the router scores them zero until the first poll.
func (p *Poller) Status(provider clients.ProviderName) clients.HealthStatus {
	snap := *p.snapshot.Load()
	health, ok := snap[provider]
	if !ok {
		return clients.StatusUnhealthy
	}
	return health.Status
}

// Snapshot returns the latest health record for every provider, in
// registration order.
func (p *Poller) Snapshot() []clients.ProviderHealth {
	snap := *p.snapshot.Load()
	out := make([]clients.ProviderHealth, 0, len(p.providers))
	for _, provider := range p.providers {
		if health, ok := snap[provider.Name()]; ok {
			out = append(out, health)
		}
	}
	return out
}

// Poll probes all providers once, concurrently, and swaps in the result.
func (p *Poller) Poll(ctx context.Context) {
	fresh := make(map[clients.ProviderName]clients.ProviderHealth, len(p.providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, provider := range p.providers {
		if !provider.IsConfigured() {
			continue
		}
		wg.Add(1)
		go func(provider clients.TranslationProvider) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			health := provider.HealthCheck(checkCtx)

			mu.Lock()
			fresh[provider.Name()] = health
			mu.Unlock()

			if health.Status == clients.StatusUnhealthy {
				p.logger.WithFields(logrus.Fields{
					"provider": provider.Name(),
					"error":    health.LastError,
				}).Warn("Provider unhealthy")
			}
		}(provider)
	}
	wg.Wait()

	p.snapshot.Store(&fresh)
}

// Run polls immediately, then on the configured interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}
