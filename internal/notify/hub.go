// Package notify fans project change notifications out to in-process subscribers.
package notify

import "sync"

// All subscribes to changes on every project.
const All = ""

type Change struct {
	ProjectID string
}

// Hub is a coalescing broadcast: a slow subscriber sees at least one pending
// change per project rather than every notification.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan Change
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Change)}
}

// Subscribe registers for changes on projectID (or All). The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(projectID string) (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Change, 16)
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[int]chan Change)
	}
	h.subs[projectID][id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[projectID], id)
			if len(h.subs[projectID]) == 0 {
				delete(h.subs, projectID)
			}
			close(ch)
		})
	}
}

// Notify signals subscribers of projectID and of All. It never blocks.
func (h *Hub) Notify(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := Change{ProjectID: projectID}
	for _, key := range []string{projectID, All} {
		for _, ch := range h.subs[key] {
			select {
			case ch <- c:
			default:
			}
		}
		if projectID == All {
			break
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

// Notifier receives change signals.
type Notifier interface {
	Notify(projectID string)
}

// Multi forwards every notification to each member in order.
type Multi []Notifier

func (m Multi) Notify(projectID string) {
	for _, n := range m {
		if n != nil {
			n.Notify(projectID)
		}
	}
}
