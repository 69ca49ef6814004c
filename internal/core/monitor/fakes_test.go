package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
)

var errConnClosed = errors.New("use of closed connection")

type fakeFrame struct {
	data []byte
	err  error
}

// fakeChannel scripts one push channel: frames and read errors are queued,
// Close unblocks any pending read.
type fakeChannel struct {
	frames    chan fakeFrame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		frames: make(chan fakeFrame, 32),
		closed: make(chan struct{}),
	}
}

func (ch *fakeChannel) push(data string) {
	ch.frames <- fakeFrame{data: []byte(data)}
}

func (ch *fakeChannel) fail(err error) {
	ch.frames <- fakeFrame{err: err}
}

func (ch *fakeChannel) ReadUpdate() ([]byte, error) {
	select {
	case f := <-ch.frames:
		return f.data, f.err
	case <-ch.closed:
		return nil, errConnClosed
	}
}

func (ch *fakeChannel) Close() error {
	ch.closeOnce.Do(func() { close(ch.closed) })
	return nil
}

func (ch *fakeChannel) isClosed() bool {
	select {
	case <-ch.closed:
		return true
	default:
		return false
	}
}

// fakeDialer scripts dial outcomes by attempt number (1-based).
type fakeDialer struct {
	mu   sync.Mutex
	n    int
	dial func(n int) (ports.TaskChannel, error)
}

func (d *fakeDialer) DialTask(ctx context.Context, taskID string) (ports.TaskChannel, error) {
	d.mu.Lock()
	d.n++
	n := d.n
	fn := d.dial
	d.mu.Unlock()
	return fn(n)
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// fakeFetcher scripts poll responses by call number (1-based).
type fakeFetcher struct {
	mu    sync.Mutex
	n     int
	fetch func(n int) (domain.StatusUpdate, error)
}

func (f *fakeFetcher) FetchStatus(ctx context.Context, taskID string) (domain.StatusUpdate, error) {
	f.mu.Lock()
	f.n++
	n := f.n
	fn := f.fetch
	f.mu.Unlock()
	return fn(n)
}

func (f *fakeFetcher) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// fakeSource satisfies TaskSource for monitor tests.
type fakeSource struct {
	dialer  *fakeDialer
	fetcher *fakeFetcher
}

func (s *fakeSource) DialTask(ctx context.Context, taskID string) (ports.TaskChannel, error) {
	return s.dialer.DialTask(ctx, taskID)
}

func (s *fakeSource) FetchStatus(ctx context.Context, taskID string) (domain.StatusUpdate, error) {
	return s.fetcher.FetchStatus(ctx, taskID)
}

func neverDial(n int) (ports.TaskChannel, error) {
	return nil, errors.New("connection refused")
}

// recorder collects callback invocations safely across goroutines.
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}
