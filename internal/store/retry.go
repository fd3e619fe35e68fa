package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/notification"
	"trading-simulator/internal/store/breaker"
)

// RetryConfig configures the retry queue.
type RetryConfig struct {
	Interval   time.Duration `mapstructure:"interval"`    // poll period and first backoff
	MaxBackoff time.Duration `mapstructure:"max_backoff"` // backoff ceiling
	AlertAfter int           `mapstructure:"alert_after"` // attempts before raising an alert
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = 5
	}
	return c
}

// pendingCommit is a close the engine already applied in memory.
type pendingCommit struct {
	acct     *model.Account
	trades   []*model.Trade
	attempts int
	next     time.Time
}

// RetryQueue persists automatic closes that failed to write. Entries are
// retried with exponential backoff until they succeed; nothing is dropped.
// The store's version guards make replays of stale entries harmless.
type RetryQueue struct {
	store   model.AccountStore
	cb      *breaker.Breaker
	alerter notification.Alerter
	cfg     RetryConfig
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []*pendingCommit
	wake    chan struct{}

	// Metrics hooks (optional, set externally)
	OnDepth func(depth int)
	OnRetry func(ok bool)
}

// NewRetryQueue creates a queue writing to store through cb.
func NewRetryQueue(store model.AccountStore, cb *breaker.Breaker, alerter notification.Alerter, cfg RetryConfig, log *zap.Logger) *RetryQueue {
	return &RetryQueue{
		store:   store,
		cb:      cb,
		alerter: alerter,
		cfg:     cfg.withDefaults(),
		log:     log.Named("retry"),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue schedules a commit. The arguments are copied.
func (q *RetryQueue) Enqueue(acct *model.Account, trades ...*model.Trade) {
	pc := &pendingCommit{acct: acct.Clone(), next: q.now()}
	for _, t := range trades {
		pc.trades = append(pc.trades, t.Clone())
	}

	q.mu.Lock()
	q.pending = append(q.pending, pc)
	depth := len(q.pending)
	q.mu.Unlock()

	q.log.Warn("close queued for retry", zap.String("user_id", acct.UserID), zap.Int("depth", depth))
	if q.OnDepth != nil {
		q.OnDepth(depth)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of commits waiting.
func (q *RetryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run retries due commits until ctx is cancelled, then makes one final
// attempt to drain the queue.
func (q *RetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			q.Flush(drainCtx)
			cancel()
			if n := q.Pending(); n > 0 {
				q.log.Error("shutting down with unpersisted closes", zap.Int("pending", n))
			}
			return
		case <-ticker.C:
			q.Flush(ctx)
		case <-q.wake:
			q.Flush(ctx)
		}
	}
}

// Flush attempts every due commit in FIFO order and returns the number
// still pending.
func (q *RetryQueue) Flush(ctx context.Context) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	now := q.now()
	var keep []*pendingCommit
	for _, pc := range batch {
		if pc.next.After(now) || !q.cb.Ready() {
			keep = append(keep, pc)
			continue
		}
		err := q.cb.Execute(func() error {
			return q.store.CommitClose(ctx, pc.acct, pc.trades...)
		})
		if q.OnRetry != nil {
			q.OnRetry(err == nil)
		}
		if err == nil {
			q.log.Info("queued close persisted",
				zap.String("user_id", pc.acct.UserID), zap.Int("attempts", pc.attempts+1))
			continue
		}
		pc.attempts++
		pc.next = now.Add(q.backoff(pc.attempts))
		keep = append(keep, pc)
		if pc.attempts == q.cfg.AlertAfter {
			q.alert(ctx, pc, err)
		}
	}

	q.mu.Lock()
	q.pending = append(keep, q.pending...)
	depth := len(q.pending)
	q.mu.Unlock()

	if q.OnDepth != nil {
		q.OnDepth(depth)
	}
	return depth
}

func (q *RetryQueue) backoff(attempts int) time.Duration {
	d := q.cfg.Interval
	for i := 1; i < attempts && d < q.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > q.cfg.MaxBackoff {
		d = q.cfg.MaxBackoff
	}
	return d
}

func (q *RetryQueue) alert(ctx context.Context, pc *pendingCommit, cause error) {
	if q.alerter == nil {
		return
	}
	msg := fmt.Sprintf("close for user %s (%d trades) failed %d times: %v",
		pc.acct.UserID, len(pc.trades), pc.attempts, cause)
	if err := q.alerter.Send(ctx, notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "persisting automatic close keeps failing",
		Message: msg,
	}); err != nil {
		q.log.Error("send alert", zap.Error(err))
	}
}
