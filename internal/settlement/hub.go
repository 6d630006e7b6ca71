package settlement

import (
	"sync"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

const subscriberBuffer = 8

// Hub fans settlement changes out to per-sale subscribers. Slow subscribers
// lose intermediate states but always receive the latest one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Settlement]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.Settlement]struct{})}
}

// Subscribe returns a channel of changes for saleID and a cancel func that
// must be called to release it.
func (h *Hub) Subscribe(saleID string) (<-chan domain.Settlement, func()) {
	ch := make(chan domain.Settlement, subscriberBuffer)

	h.mu.Lock()
	if h.subs[saleID] == nil {
		h.subs[saleID] = make(map[chan domain.Settlement]struct{})
	}
	h.subs[saleID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[saleID], ch)
			if len(h.subs[saleID]) == 0 {
				delete(h.subs, saleID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(update domain.Settlement) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[update.SaleID] {
		select {
		case ch <- update:
			continue
		default:
		}
		// Full: drop the oldest pending update.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
		}
	}
}

func (h *Hub) Subscribers(saleID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[saleID])
}
