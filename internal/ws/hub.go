package ws

import (
	"encoding/json"
	"sync"
)

// Client represents a single WebSocket connection with user context.
type Client struct {
	UserID uint
	Send   chan []byte
	hub    *RewardHub
	mu     sync.Mutex
	closed bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.hub != nil {
		c.hub.unregister(c)
	}
}

// deliver queues data for the write pump. Holding c.mu excludes Close, so
// the send can never hit a closed channel.
func (c *Client) deliver(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default: // slow consumer, drop
	}
}

// RewardHub pushes reward events (balance changes, redemption transitions)
// to the owning customer's open connections. It replaces the frontend's
// short-interval balance polling.
type RewardHub struct {
	mu     sync.RWMutex
	byUser map[uint]map[*Client]struct{} // one user can have multiple connections
}

func NewRewardHub() *RewardHub {
	return &RewardHub{byUser: make(map[uint]map[*Client]struct{})}
}

func (h *RewardHub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]struct{})
	}
	h.byUser[c.UserID][c] = struct{}{}
}

func (h *RewardHub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// BalanceUpdated tells the customer's connections the ledger moved.
func (h *RewardHub) BalanceUpdated(userID uint, balance, totalEarned, totalRedeemed int) {
	h.sendToUser(userID, map[string]interface{}{
		"type":            "balance_updated",
		"current_balance": balance,
		"total_earned":    totalEarned,
		"total_redeemed":  totalRedeemed,
	})
}

// RedemptionUpdated pushes a redemption status transition.
func (h *RewardHub) RedemptionUpdated(userID, redemptionID uint, status string) {
	h.sendToUser(userID, map[string]interface{}{
		"type":          "redemption_updated",
		"redemption_id": redemptionID,
		"status":        status,
	})
}

func (h *RewardHub) sendToUser(userID uint, payload interface{}) {
	data, _ := json.Marshal(payload)
	h.mu.RLock()
	m := h.byUser[userID]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.deliver(data)
	}
}

func (h *RewardHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.byUser {
		n += len(m)
	}
	return n
}
