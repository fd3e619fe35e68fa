// Package memory is an in-process AccountStore used for development and
// tests. It applies the same version and terminal-trade guards as the SQL
// stores and supports fault injection.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"trading-simulator/internal/model"
)

// Store keeps accounts and trades in maps.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	trades   map[string]*model.Trade
	byUser   map[string][]string // userID -> trade IDs
	failWith error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*model.Account),
		trades:   make(map[string]*model.Trade),
		byUser:   make(map[string][]string),
	}
}

// FailWith makes every subsequent write return err. nil restores normal
// operation.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *Store) LoadAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "account %s", userID)
	}
	return a.Clone(), nil
}

func (s *Store) SaveAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.putAccount(acct)
	return nil
}

func (s *Store) SaveTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.putTrade(t)
	return nil
}

func (s *Store) CommitClose(_ context.Context, acct *model.Account, trades ...*model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.putAccount(acct)
	for _, t := range trades {
		s.putTrade(t)
	}
	return nil
}

func (s *Store) ListTrades(_ context.Context, userID string) ([]*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]*model.Trade, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.trades[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *Store) ListOpenUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []string
	for userID, ids := range s.byUser {
		for _, id := range ids {
			if s.trades[id].IsOpen() {
				users = append(users, userID)
				break
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// putAccount keeps the stored account unless acct is newer.
func (s *Store) putAccount(acct *model.Account) {
	if cur, ok := s.accounts[acct.UserID]; ok && cur.Version >= acct.Version {
		return
	}
	s.accounts[acct.UserID] = acct.Clone()
}

// putTrade never overwrites a CLOSED trade.
func (s *Store) putTrade(t *model.Trade) {
	cur, ok := s.trades[t.ID]
	if ok && !cur.IsOpen() {
		return
	}
	if !ok {
		s.byUser[t.UserID] = append(s.byUser[t.UserID], t.ID)
	}
	s.trades[t.ID] = t.Clone()
}
