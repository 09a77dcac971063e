package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tallyhq/tally/pkg/events"
	"github.com/tallyhq/tally/pkg/ledger"
	"github.com/tallyhq/tally/pkg/log"
	"github.com/tallyhq/tally/pkg/metrics"
	"github.com/tallyhq/tally/pkg/storage"
	"github.com/tallyhq/tally/pkg/types"
)

// EntriesSource supplies the target entries mapping for a cycle.
type EntriesSource interface {
	Compute(ctx context.Context) (types.Entries, error)
}

// Collector drives reconciliation: every interval it computes the
// entries mapping and syncs the whole ledger against it. A cycle
// failure is logged and retried on the next tick, never fatal to the
// loop.
type Collector struct {
	source   EntriesSource
	ledger   *ledger.Ledger
	store    storage.Store
	broker   *events.Broker
	interval time.Duration
	logger   zerolog.Logger

	cycleMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a collector. The broker may be nil.
func New(source EntriesSource, ldg *ledger.Ledger, store storage.Store, broker *events.Broker, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		source:   source,
		ledger:   ldg,
		store:    store,
		broker:   broker,
		interval: interval,
		logger:   log.WithComponent("collector"),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the polling loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop stops scheduling further cycles and cancels the in-flight one.
// It returns once the loop has exited.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.cancel()
	<-c.doneCh
}

// run is the main polling loop.
func (c *Collector) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Sync immediately on start
	if err := c.RunOnce(c.ctx); err != nil {
		c.logger.Error().Err(err).Msg("sync cycle failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := c.RunOnce(c.ctx); err != nil {
				c.logger.Error().Err(err).Msg("sync cycle failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// RunOnce performs one full sync cycle: compute entries, strip
// ineligible holders, reconcile every eligible user. Safe to call
// concurrently with the scheduled loop; cycles never overlap.
func (c *Collector) RunOnce(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SyncDuration)
		metrics.SyncCyclesTotal.Inc()
	}()

	c.publish(events.EventSyncStarted, "sync cycle started")

	cycleCtx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	target, err := c.source.Compute(cycleCtx)
	if err != nil {
		return c.failed(fmt.Errorf("failed to compute entries: %w", err))
	}
	c.logEntries(target)

	result, err := c.ledger.SyncAll(cycleCtx, target)
	if err != nil {
		return c.failed(fmt.Errorf("sync aborted: %w", err))
	}
	result.Duration = timer.Duration()

	c.updateGauges(cycleCtx)

	c.logger.Info().
		Int("users", result.Users).
		Int("allocated", result.Allocated).
		Int("invalidated", result.Invalidated).
		Int("stripped", result.Stripped).
		Int("failed", len(result.FailedUsers)).
		Dur("duration", result.Duration).
		Msg("sync cycle completed")
	c.publish(events.EventSyncCompleted,
		fmt.Sprintf("synced %d users: %d allocated, %d invalidated, %d stripped",
			result.Users, result.Allocated, result.Invalidated, result.Stripped))

	if len(result.FailedUsers) > 0 {
		return fmt.Errorf("sync completed with %d failed users", len(result.FailedUsers))
	}
	return nil
}

func (c *Collector) failed(err error) error {
	metrics.SyncFailuresTotal.Inc()
	c.publish(events.EventSyncFailed, err.Error())
	return err
}

// logEntries logs the computed entries at debug, highest counts first.
func (c *Collector) logEntries(target types.Entries) {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		return
	}
	usernames := target.Usernames()
	sort.Slice(usernames, func(i, j int) bool {
		if target[usernames[i]] != target[usernames[j]] {
			return target[usernames[i]] > target[usernames[j]]
		}
		return usernames[i] < usernames[j]
	})
	for _, username := range usernames {
		c.logger.Debug().Str("username", username).Int("entries", target[username]).Msg("giveaway entries")
	}
}

func (c *Collector) updateGauges(ctx context.Context) {
	valid, err := c.store.AllValidTickets(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to read valid tickets for metrics")
		return
	}
	total := 0
	for _, numbers := range valid {
		total += len(numbers)
	}
	metrics.ValidTickets.Set(float64(total))
	metrics.TicketHolders.Set(float64(len(valid)))
}

func (c *Collector) publish(eventType events.EventType, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{Type: eventType, Message: message})
}
