package client

import (
	"sync"

	"github.com/damsac/health-assistant/internal/chat"
)

// CostTracker accumulates cost estimates client-side: one estimate per
// assistant message plus a running session total. Costs are display-only
// and never sent back to the server.
type CostTracker struct {
	mu         sync.Mutex
	perMessage map[string]chat.CostEstimate
	session    chat.CostEstimate
}

func NewCostTracker() *CostTracker {
	return &CostTracker{perMessage: make(map[string]chat.CostEstimate)}
}

// Record attributes a cost estimate to a message and adds it to the session
// total. A message streamed across multiple physical requests accumulates
// additively. Nil estimates are ignored: absence of usage is unknown cost,
// not zero cost.
func (t *CostTracker) Record(messageID string, cost *chat.CostEstimate) {
	if cost == nil || messageID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	existing := t.perMessage[messageID]
	existing.Add(*cost)
	t.perMessage[messageID] = existing
	t.session.Add(*cost)
}

// MessageCost returns the accumulated estimate for a message.
func (t *CostTracker) MessageCost(messageID string) (chat.CostEstimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cost, ok := t.perMessage[messageID]
	return cost, ok
}

// SessionTotal returns the running total for this client session.
func (t *CostTracker) SessionTotal() chat.CostEstimate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}
