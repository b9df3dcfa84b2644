package pipeline

import "sync"

// Progress event types.
const (
	EventStarted   = "started"
	EventLoaded    = "loaded"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// ProgressEvent represents a progress update during a run.
type ProgressEvent struct {
	Type      string   `json:"type"`
	RunID     string   `json:"run_id"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Message   string   `json:"message,omitempty"`
	Summary   *Summary `json:"summary,omitempty"`
}

// Terminal reports whether no further events follow for the run.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

// ProgressCallback is called when pipeline progress occurs.
type ProgressCallback func(event ProgressEvent)

const subscriberBuffer = 64

// hub fans progress events out to subscribers. Slow subscribers lose
// intermediate events rather than stalling the workers.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan ProgressEvent
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan ProgressEvent)}
}

func (h *hub) subscribe() (<-chan ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan ProgressEvent, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
