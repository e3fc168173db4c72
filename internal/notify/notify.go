// Package notify is the in-process event bus between the application
// controller and its presentation layers.
package notify

import (
	"sync"
	"time"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
)

// ToastTTL is how long a client shows a toast before dismissing it.
const ToastTTL = 3 * time.Second

// Event types.
const (
	TypeToast            = "toast"
	TypeDocumentsChanged = "documents_changed"
	TypeDocumentSaved    = "document_saved"
	TypeDirtyChanged     = "dirty_changed"
	TypeSettingsChanged  = "settings_changed"
	TypeActiveChanged    = "active_changed"
)

type Toast struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	TTLms    int64    `json:"ttlMs"`
}

type Event struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"documentId,omitempty"`
	Toast      *Toast    `json:"toast,omitempty"`
	Dirty      *bool     `json:"dirty,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

func ToastEvent(severity Severity, message string) Event {
	return Event{
		Type:  TypeToast,
		Toast: &Toast{Severity: severity, Message: message, TTLms: ToastTTL.Milliseconds()},
	}
}

// Publisher is what state owners need from the bus.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

type Subscription struct {
	C     <-chan Event
	id    int
	bus   *Bus
	close sync.Once
}

// Subscribe registers a listener with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()
	return &Subscription{C: ch, id: id, bus: b}
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.close.Do(func() {
		s.bus.mu.Lock()
		ch, ok := s.bus.subs[s.id]
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		if ok {
			close(ch)
		}
	})
}

func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = b.now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// drop on slow subscriber
		}
	}
}

// Close ends every subscription. Publishing afterwards is a no-op until a new
// subscriber arrives.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Recorder is a Publisher that keeps every event. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Toasts returns only the toast payloads, in order.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Toast
	for _, e := range r.events {
		if e.Toast != nil {
			out = append(out, *e.Toast)
		}
	}
	return out
}
