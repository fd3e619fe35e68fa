package gateway

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/notification"
)

// FeedSource activates price feeds. It is satisfied by *pricegen.Generator.
type FeedSource interface {
	Symbol(name string) (model.Symbol, bool)
	Acquire(symbol string) (release func(), err error)
}

// Broadcaster maps symbols to the channels subscribed to them and fans
// price and candle updates out to those channels. It also routes private
// notifications to the channels of their recipient.
//
// It holds one feed acquisition per symbol while at least one channel is
// subscribed to it.
type Broadcaster struct {
	feeds     FeedSource
	outboxCap int
	log       *zap.Logger

	mu        sync.RWMutex
	bySymbol  map[string]map[*Channel]struct{}
	byChannel map[*Channel]map[string]struct{} // reverse index
	byUser    map[string]map[*Channel]struct{}
	releases  map[string]func()

	seq atomic.Uint64

	// Tick age at fan-out time.
	Latency *LatencyTracker

	// Metrics hooks (optional, set externally)
	OnDrop     func()
	OnChannels func(n int)
}

// NewBroadcaster creates a broadcaster. outboxCap bounds each channel's
// queue.
func NewBroadcaster(feeds FeedSource, outboxCap int, log *zap.Logger) *Broadcaster {
	if outboxCap <= 0 {
		outboxCap = 256
	}
	return &Broadcaster{
		feeds:     feeds,
		outboxCap: outboxCap,
		log:       log.Named("broadcaster"),
		bySymbol:  make(map[string]map[*Channel]struct{}),
		byChannel: make(map[*Channel]map[string]struct{}),
		byUser:    make(map[string]map[*Channel]struct{}),
		releases:  make(map[string]func()),
		Latency:   NewLatencyTracker(4096),
	}
}

// Open registers a new channel. A non-empty userID makes the channel a
// recipient of that user's notifications.
func (b *Broadcaster) Open(userID string) *Channel {
	ch := newChannel(strconv.FormatUint(b.seq.Add(1), 10), userID, b.outboxCap)

	b.mu.Lock()
	b.byChannel[ch] = make(map[string]struct{})
	if userID != "" {
		set, ok := b.byUser[userID]
		if !ok {
			set = make(map[*Channel]struct{})
			b.byUser[userID] = set
		}
		set[ch] = struct{}{}
	}
	n := len(b.byChannel)
	b.mu.Unlock()

	if b.OnChannels != nil {
		b.OnChannels(n)
	}
	return ch
}

// Subscribe adds symbol to ch. Subscribing twice is a no-op.
func (b *Broadcaster) Subscribe(ch *Channel, symbol string) error {
	if _, ok := b.feeds.Symbol(symbol); !ok {
		return errors.Wrapf(model.ErrNotFound, "symbol %s", symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.byChannel[ch]
	if !ok {
		return errors.Wrap(model.ErrValidation, "channel is closed")
	}
	if _, dup := subs[symbol]; dup {
		return nil
	}

	set, ok := b.bySymbol[symbol]
	if !ok {
		release, err := b.feeds.Acquire(symbol)
		if err != nil {
			return err
		}
		set = make(map[*Channel]struct{})
		b.bySymbol[symbol] = set
		b.releases[symbol] = release
	}
	set[ch] = struct{}{}
	subs[symbol] = struct{}{}
	return nil
}

// Unsubscribe removes symbol from ch. Unsubscribing an absent symbol is a
// no-op.
func (b *Broadcaster) Unsubscribe(ch *Channel, symbol string) {
	b.mu.Lock()
	release := b.unsubscribeLocked(ch, symbol)
	b.mu.Unlock()
	if release != nil {
		release()
	}
}

// unsubscribeLocked returns the feed release when ch was the last
// subscriber of symbol.
func (b *Broadcaster) unsubscribeLocked(ch *Channel, symbol string) func() {
	if subs, ok := b.byChannel[ch]; ok {
		delete(subs, symbol)
	}
	set, ok := b.bySymbol[symbol]
	if !ok {
		return nil
	}
	if _, member := set[ch]; !member {
		return nil
	}
	delete(set, ch)
	if len(set) > 0 {
		return nil
	}
	delete(b.bySymbol, symbol)
	release := b.releases[symbol]
	delete(b.releases, symbol)
	return release
}

// Remove drops ch from every subscription and closes it.
func (b *Broadcaster) Remove(ch *Channel) {
	b.mu.Lock()
	subs, ok := b.byChannel[ch]
	if !ok {
		b.mu.Unlock()
		return
	}
	var releases []func()
	for symbol := range subs {
		if release := b.unsubscribeLocked(ch, symbol); release != nil {
			releases = append(releases, release)
		}
	}
	delete(b.byChannel, ch)
	if set, ok := b.byUser[ch.userID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.byUser, ch.userID)
		}
	}
	n := len(b.byChannel)
	b.mu.Unlock()

	for _, release := range releases {
		release()
	}
	ch.close()
	if b.OnChannels != nil {
		b.OnChannels(n)
	}
}

// Subscriptions returns the symbols ch is subscribed to, sorted.
func (b *Broadcaster) Subscriptions(ch *Channel) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byChannel[ch]))
	for s := range b.byChannel[ch] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Subscribers returns the number of channels subscribed to symbol.
func (b *Broadcaster) Subscribers(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bySymbol[symbol])
}

// OnTick pushes a price-update to every channel subscribed to the tick's
// symbol. It never blocks.
func (b *Broadcaster) OnTick(tick model.Tick) {
	msg, err := encode(TypePriceUpdate, "", PriceUpdate{Symbol: tick.Symbol, Price: tick.Price, Timestamp: tick.TS})
	if err != nil {
		b.log.Error("encode price-update", zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}
	if b.fanout(tick.Symbol, msg) > 0 && b.Latency != nil {
		if age := time.Since(tick.TS); age >= 0 {
			b.Latency.Record(float64(age.Microseconds()) / 1000.0)
		}
	}
}

// OnCandle pushes a candle-closed to every channel subscribed to the
// candle's symbol.
func (b *Broadcaster) OnCandle(c model.Candle) {
	msg, err := encode(TypeCandleClosed, "", c)
	if err != nil {
		b.log.Error("encode candle-closed", zap.String("candle", c.Key()), zap.Error(err))
		return
	}
	b.fanout(c.Symbol, msg)
}

func (b *Broadcaster) fanout(symbol string, msg []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.bySymbol[symbol]
	for ch := range set {
		b.send(ch, msg)
	}
	return len(set)
}

func (b *Broadcaster) send(ch *Channel, msg []byte) {
	if !ch.enqueue(msg) && b.OnDrop != nil {
		b.OnDrop()
	}
}

// Notify delivers n to the channels of its recipient only. It satisfies
// notification.Notifier.
func (b *Broadcaster) Notify(_ context.Context, n notification.Notification) {
	msg, err := encode(string(n.Kind()), "", n)
	if err != nil {
		b.log.Error("encode notification", zap.String("kind", string(n.Kind())), zap.Error(err))
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.byUser[n.Recipient()] {
		b.send(ch, msg)
	}
}

// Reply queues a direct response on ch.
func (b *Broadcaster) Reply(ch *Channel, typ, reqID string, data any) {
	msg, err := encode(typ, reqID, data)
	if err != nil {
		b.log.Error("encode reply", zap.String("type", typ), zap.Error(err))
		return
	}
	b.send(ch, msg)
}

// Channels returns the number of open channels.
func (b *Broadcaster) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byChannel)
}

// Close removes every channel and releases all feeds.
func (b *Broadcaster) Close() {
	b.mu.RLock()
	chans := make([]*Channel, 0, len(b.byChannel))
	for ch := range b.byChannel {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()
	for _, ch := range chans {
		b.Remove(ch)
	}
}
