package crypto

import (
	"context"
	"errors"
	"sync"
)

// ErrTaskCancelled is returned by Task.Wait after Cancel.
var ErrTaskCancelled = errors.New("key derivation cancelled")

// Task is a key derivation running on its own goroutine.
type Task struct {
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	once sync.Once
	key  *Key
	err  error
}

// Start begins deriving the key for password and meta in the background.
// The password is copied, so the caller may clear its buffer as soon as Start returns.
func Start(ctx context.Context, password []byte, meta KeyMetadata) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		progress: make(chan Progress, 8),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	pw := append([]byte(nil), password...)
	meta = meta.Clone()

	go func() {
		defer close(t.done)
		defer close(t.progress)
		defer cancel()
		defer ClearBytes(pw)

		key, err := Derive(ctx, pw, meta, t.publish)
		if err != nil && errors.Is(err, context.Canceled) {
			err = errors.Join(ErrTaskCancelled, err)
		}
		t.once.Do(func() {
			t.key = key
			t.err = err
		})
	}()

	return t
}

// publish delivers p without blocking the derivation. When the buffer is full the
// oldest event is dropped, so slow readers always see the latest state.
func (t *Task) publish(p Progress) {
	for {
		select {
		case t.progress <- p:
			return
		default:
		}
		select {
		case <-t.progress:
		default:
		}
	}
}

// Progress returns the channel of progress events. It is closed when the task finishes.
func (t *Task) Progress() <-chan Progress {
	return t.progress
}

// Done is closed when the derivation has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the derivation finishes and returns its result.
// The returned key belongs to the caller.
func (t *Task) Wait() (*Key, error) {
	<-t.done
	return t.key, t.err
}

// Cancel aborts the derivation. Wait then returns an error wrapping ErrTaskCancelled.
func (t *Task) Cancel() {
	t.cancel()
}
