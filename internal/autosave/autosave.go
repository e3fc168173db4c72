// Package autosave tracks whether the active document has unsaved edits and
// drives the periodic flush.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State string

const (
	Clean State = "CLEAN"
	Dirty State = "DIRTY"
)

const DefaultInterval = 30 * time.Second

// Tick identifies one timer firing. A flush is only valid while the token
// still matches the controller: same timer generation, same active document,
// still dirty and still enabled.
type Tick struct {
	DocumentID string
	Generation uint64
}

// FlushFunc persists the document named by the tick. Implementations must
// call Controller.Valid under their own serialization before writing.
type FlushFunc func(ctx context.Context, tick Tick) error

// Controller is the CLEAN/DIRTY state machine plus one interval timer. It
// never calls flush while holding its own lock, so flush may call back into
// the controller.
type Controller struct {
	flush FlushFunc
	log   logrus.FieldLogger

	mu         sync.Mutex
	enabled    bool
	interval   time.Duration
	activeID   string
	dirty      bool
	generation uint64
	stop       chan struct{}
	closed     bool

	wg sync.WaitGroup
}

func New(flush FlushFunc, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		flush:    flush,
		log:      log.WithField("component", "autosave"),
		interval: DefaultInterval,
	}
}

// Configure sets the interval and enabled flag. While enabled every call
// re-arms the single timer, replacing the previous one. Disabling stops it;
// the dirty flag is kept so a manual save still knows there is work.
func (c *Controller) Configure(enabled bool, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.enabled = enabled
	c.interval = interval
	if !enabled {
		c.stopLocked()
		return
	}
	c.armLocked()
}

// SetActive switches the tracked document and resets to CLEAN. Any tick
// captured for the previous document becomes invalid.
func (c *Controller) SetActive(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeID = id
	c.dirty = false
}

// MarkDirty records an edit to id. It is a no-op unless id is active and
// autosave is enabled. Reports whether the state changed.
func (c *Controller) MarkDirty(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || id == "" || id != c.activeID || c.dirty {
		return false
	}
	c.dirty = true
	return true
}

// MarkSaved moves id back to CLEAN after a successful save. Reports whether
// the state changed.
func (c *Controller) MarkSaved(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.activeID || !c.dirty {
		return false
	}
	c.dirty = false
	return true
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		return Dirty
	}
	return Clean
}

func (c *Controller) IsDirty() bool {
	return c.State() == Dirty
}

func (c *Controller) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Generation identifies the armed timer; it changes on every re-arm or stop.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Valid reports whether a flush for tick may still be applied.
func (c *Controller) Valid(tick Tick) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && !c.closed &&
		tick.Generation == c.generation &&
		tick.DocumentID != "" && tick.DocumentID == c.activeID &&
		c.dirty
}

// Fire runs one tick of the current timer generation: a no-op when CLEAN or
// disabled, otherwise a flush of the active document.
func (c *Controller) Fire(ctx context.Context) error {
	return c.fire(ctx, c.Generation())
}

func (c *Controller) fire(ctx context.Context, generation uint64) error {
	c.mu.Lock()
	tick := Tick{DocumentID: c.activeID, Generation: generation}
	due := c.enabled && !c.closed && generation == c.generation && c.dirty && c.activeID != ""
	c.mu.Unlock()
	if !due {
		return nil
	}
	if err := c.flush(ctx, tick); err != nil {
		c.log.WithError(err).WithField("document_id", tick.DocumentID).Warn("autosave flush failed")
		return err
	}
	return nil
}

// Close stops the timer and waits for an in-flight tick to return. It must
// not be called while holding a lock the flush function takes.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) armLocked() {
	c.stopLocked()
	stop := make(chan struct{})
	c.stop = stop
	generation := c.generation
	interval := c.interval

	c.wg.Add(1)
	go c.loop(generation, interval, stop)
}

// stopLocked invalidates the current generation and signals its loop. It does
// not wait for the loop.
func (c *Controller) stopLocked() {
	c.generation++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Controller) loop(generation uint64, interval time.Duration, stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.fire(ctx, generation)
		}
	}
}
