// Package notification carries user-facing trading events to their
// recipients and operational alerts to external channels.
package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-simulator/internal/model"
)

// Kind identifies a notification variant. Values double as wire types.
type Kind string

const (
	KindTradeClosed         Kind = "trade-closed"
	KindAchievementUnlocked Kind = "achievement-unlocked"
	KindRuleViolation       Kind = "rule-violation"
)

// Notification is a user-private event. Every variant names exactly one
// recipient and is never broadcast.
type Notification interface {
	Kind() Kind
	Recipient() string
}

// TradeClosed reports a closed trade and the resulting balance.
type TradeClosed struct {
	UserID  string       `json:"user_id"`
	Trade   *model.Trade `json:"trade"`
	Balance float64      `json:"balance"`
	At      time.Time    `json:"at"`
}

func (n TradeClosed) Kind() Kind        { return KindTradeClosed }
func (n TradeClosed) Recipient() string { return n.UserID }

// AchievementUnlocked reports a newly earned milestone.
type AchievementUnlocked struct {
	UserID      string              `json:"user_id"`
	ID          model.AchievementID `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	At          time.Time           `json:"at"`
}

func (n AchievementUnlocked) Kind() Kind        { return KindAchievementUnlocked }
func (n AchievementUnlocked) Recipient() string { return n.UserID }

// RuleViolated reports a blocked open, or a forced close when Forced is set.
type RuleViolated struct {
	UserID    string              `json:"user_id"`
	Violation model.RuleViolation `json:"violation"`
	Forced    bool                `json:"forced"`
	At        time.Time           `json:"at"`
}

func (n RuleViolated) Kind() Kind        { return KindRuleViolation }
func (n RuleViolated) Recipient() string { return n.UserID }

// Notifier delivers notifications. Notify must not block on slow
// recipients.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier logs every notification (useful for development).
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) {
	n.log.Info("notification",
		zap.String("kind", string(note.Kind())),
		zap.String("user_id", note.Recipient()))
}

// Multi fans a notification out to several notifiers in order.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewMulti creates a Multi over the given notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Add appends a notifier.
func (m *Multi) Add(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

func (m *Multi) Notify(ctx context.Context, n Notification) {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()
	for _, to := range notifiers {
		to.Notify(ctx, n)
	}
}
