package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flushRecorder plays the application side: it validates the tick, writes
// and marks the document saved.
type flushRecorder struct {
	mu     sync.Mutex
	ctrl   *Controller
	ticks  []Tick
	writes []string
	before func(Tick)
	err    error
}

func (f *flushRecorder) flush(_ context.Context, tick Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, tick)
	if f.before != nil {
		f.before(tick)
	}
	if !f.ctrl.Valid(tick) {
		return nil
	}
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, tick.DocumentID)
	f.ctrl.MarkSaved(tick.DocumentID)
	return nil
}

func (f *flushRecorder) snapshot() ([]Tick, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tick(nil), f.ticks...), append([]string(nil), f.writes...)
}

func newController(t *testing.T) (*Controller, *flushRecorder) {
	t.Helper()
	rec := &flushRecorder{}
	ctrl := New(rec.flush, nil)
	rec.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return ctrl, rec
}

func TestEditMarksDirtyAndTickFlushes(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(true, time.Hour)
	ctrl.SetActive("doc_a")
	assert.Equal(t, Clean, ctrl.State())

	assert.True(t, ctrl.MarkDirty("doc_a"))
	assert.False(t, ctrl.MarkDirty("doc_a"))
	assert.Equal(t, Dirty, ctrl.State())

	require.NoError(t, ctrl.Fire(context.Background()))
	assert.Equal(t, Clean, ctrl.State())
	_, writes := rec.snapshot()
	assert.Equal(t, []string{"doc_a"}, writes)
}

func TestCleanTickIsNoop(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(true, time.Hour)
	ctrl.SetActive("doc_a")

	require.NoError(t, ctrl.Fire(context.Background()))
	ticks, _ := rec.snapshot()
	assert.Empty(t, ticks)
}

func TestDisabledNeverTransitionsOrWrites(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(false, 5*time.Millisecond)
	ctrl.SetActive("doc_a")

	assert.False(t, ctrl.MarkDirty("doc_a"))
	assert.Equal(t, Clean, ctrl.State())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, ctrl.Fire(context.Background()))

	ticks, _ := rec.snapshot()
	assert.Empty(t, ticks)
}

func TestMarkDirtyIgnoresInactiveDocument(t *testing.T) {
	ctrl, _ := newController(t)
	ctrl.Configure(true, time.Hour)
	ctrl.SetActive("doc_a")
	assert.False(t, ctrl.MarkDirty("doc_b"))
	assert.False(t, ctrl.MarkDirty(""))
	assert.Equal(t, Clean, ctrl.State())
}

func TestSwitchingDocumentInvalidatesTick(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(true, time.Hour)
	ctrl.SetActive("doc_a")
	ctrl.MarkDirty("doc_a")

	rec.before = func(tick Tick) {
		assert.Equal(t, "doc_a", tick.DocumentID)
		ctrl.SetActive("doc_b")
	}
	require.NoError(t, ctrl.Fire(context.Background()))

	_, writes := rec.snapshot()
	assert.Empty(t, writes)
	assert.Equal(t, "doc_b", ctrl.ActiveID())
	assert.Equal(t, Clean, ctrl.State())
}

func TestDisableDuringTickInvalidatesIt(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(true, time.Hour)
	ctrl.SetActive("doc_a")
	ctrl.MarkDirty("doc_a")

	rec.before = func(Tick) { ctrl.Configure(false, time.Hour) }
	require.NoError(t, ctrl.Fire(context.Background()))

	_, writes := rec.snapshot()
	assert.Empty(t, writes)
	assert.Equal(t, Dirty, ctrl.State())
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(true, time.Hour)
	ctrl.SetActive("doc_a")
	ctrl.MarkDirty("doc_a")

	rec.err = errors.New("disk full")
	assert.Error(t, ctrl.Fire(context.Background()))
	assert.Equal(t, Dirty, ctrl.State())
}

func TestTimerFlushesDirtyDocument(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.Configure(true, 10*time.Millisecond)
	ctrl.SetActive("doc_a")
	ctrl.MarkDirty("doc_a")

	require.Eventually(t, func() bool {
		_, writes := rec.snapshot()
		return len(writes) == 1 && ctrl.State() == Clean
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconfigureKeepsExactlyOneTimer(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.SetActive("doc_a")
	ctrl.Configure(true, 10*time.Millisecond)
	ctrl.Configure(true, 10*time.Millisecond)
	ctrl.Configure(true, 10*time.Millisecond)
	current := ctrl.Generation()
	ctrl.MarkDirty("doc_a")

	require.Eventually(t, func() bool {
		_, writes := rec.snapshot()
		return len(writes) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ticks, _ := rec.snapshot()
	for _, tick := range ticks {
		assert.Equal(t, current, tick.Generation)
	}
}

func TestDisableStopsTimer(t *testing.T) {
	ctrl, rec := newController(t)
	ctrl.SetActive("doc_a")
	ctrl.Configure(true, 50*time.Millisecond)
	ctrl.MarkDirty("doc_a")
	ctrl.Configure(false, 50*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	ticks, _ := rec.snapshot()
	assert.Empty(t, ticks)
	assert.Equal(t, Dirty, ctrl.State())
	assert.False(t, ctrl.Enabled())
}

func TestCloseStopsEverything(t *testing.T) {
	rec := &flushRecorder{}
	ctrl := New(rec.flush, nil)
	rec.ctrl = ctrl
	ctrl.Configure(true, 5*time.Millisecond)
	ctrl.Close()
	ctrl.Configure(true, 5*time.Millisecond)
	ctrl.SetActive("doc_a")
	assert.False(t, ctrl.Valid(Tick{DocumentID: "doc_a", Generation: ctrl.Generation()}))
	ctrl.Close()
}
