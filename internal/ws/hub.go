package ws

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live connections and which symbols each one follows.
// Registration runs through Run; subscription changes take the lock directly.
type Hub struct {
	conns       map[*Client]struct{}
	subscribers map[string]map[*Client]struct{}
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:       make(map[*Client]struct{}),
		subscribers: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run serves registrations until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.Int("connections", h.connCount()))
			close(h.done)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.conns[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("connID", c.connID))

		case c := <-h.unregister:
			h.mu.Lock()
			_, known := h.conns[c]
			if known {
				delete(h.conns, c)
				for symbol := range c.symbols {
					h.detach(c, symbol)
				}
				c.close()
			}
			h.mu.Unlock()
			if known {
				h.logger.Debug("client disconnected", zap.String("connID", c.connID))
			}
		}
	}
}

func (h *Hub) connCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.close()
	}
	h.conns = make(map[*Client]struct{})
	h.subscribers = make(map[string]map[*Client]struct{})
}

// detach drops one subscription. Callers hold h.mu.
func (h *Hub) detach(c *Client, symbol string) {
	delete(c.symbols, symbol)
	subs := h.subscribers[symbol]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.subscribers, symbol)
	}
}

// Subscribe starts delivering symbol's snapshot announcements to c.
func (h *Hub) Subscribe(c *Client, symbol string) {
	h.mu.Lock()
	subs, ok := h.subscribers[symbol]
	if !ok {
		subs = make(map[*Client]struct{})
		h.subscribers[symbol] = subs
	}
	subs[c] = struct{}{}
	c.symbols[symbol] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscribed", zap.String("connID", c.connID), zap.String("symbol", symbol))
}

func (h *Hub) Unsubscribe(c *Client, symbol string) {
	h.mu.Lock()
	h.detach(c, symbol)
	h.mu.Unlock()

	h.logger.Debug("unsubscribed", zap.String("connID", c.connID), zap.String("symbol", symbol))
}

// ActiveSymbols lists symbols with at least one subscriber, sorted.
func (h *Hub) ActiveSymbols() []string {
	h.mu.RLock()
	symbols := make([]string, 0, len(h.subscribers))
	for symbol := range h.subscribers {
		symbols = append(symbols, symbol)
	}
	h.mu.RUnlock()

	sort.Strings(symbols)
	return symbols
}

// Broadcast queues payload for every subscriber of symbol and returns how
// many accepted it. A subscriber with a full buffer is disconnected.
func (h *Hub) Broadcast(symbol string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subscribers[symbol]))
	for c := range h.subscribers[symbol] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.trySend(payload) {
			delivered++
			continue
		}
		h.logger.Warn("dropping slow client", zap.String("connID", c.connID), zap.String("symbol", symbol))
		go h.remove(c)
	}
	return delivered
}

// remove unregisters c unless the hub has stopped.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
