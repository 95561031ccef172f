package pool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/coord/errs"
)

type conn struct {
	id     int64
	closed atomic.Bool
}

func newConnPool(t *testing.T, max int, created *atomic.Int64) *Pool[*conn] {
	t.Helper()
	p, err := New(Options[*conn]{
		MaxResources: max,
		Constructor: func(context.Context) (*conn, error) {
			return &conn{id: created.Add(1)}, nil
		},
		Destructor: func(c *conn) { c.closed.Store(true) },
	})
	require.NoError(t, err)
	return p
}

func TestPool_BoundsAndReuses(t *testing.T) {
	t.Parallel()

	var created, live, peak atomic.Int64
	p := newConnPool(t, 2, &created)
	defer p.Close()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return p.With(context.Background(), func(context.Context, *conn) error {
				n := live.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				live.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.LessOrEqual(t, created.Load(), int64(2), "resources must be reused")

	st := p.Stats()
	assert.Equal(t, 2, st.Max)
	assert.Equal(t, 0, st.Acquired)
}

func TestPool_ReleasedOnErrorAndPanic(t *testing.T) {
	t.Parallel()

	var created atomic.Int64
	p := newConnPool(t, 1, &created)
	defer p.Close()

	boom := errors.New("boom")
	err := p.With(context.Background(), func(context.Context, *conn) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = p.With(context.Background(), func(context.Context, *conn) error { panic("x") })
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := p.Acquire(ctx)
	require.NoError(t, err, "the single resource must be back in the pool")
	lease.Release()
	lease.Release()
}

func TestPool_WaiterCancelled(t *testing.T) {
	t.Parallel()

	var created atomic.Int64
	p := newConnPool(t, 1, &created)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, errs.ErrCancelled)
}

func TestPool_CloseDestroysAndRejects(t *testing.T) {
	t.Parallel()

	var created atomic.Int64
	p := newConnPool(t, 2, &created)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c := lease.Value()
	lease.Release()

	p.Close()
	assert.True(t, c.closed.Load(), "close must destroy idle resources")

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, errs.ErrPoolClosed)
	assert.False(t, errs.IsCancelled(err))
}

// Close with a lease still out: new Acquire calls fail at once while Close
// waits for the lease.
func TestPool_AcquireDuringCloseWithLeaseOut(t *testing.T) {
	t.Parallel()

	var created atomic.Int64
	p := newConnPool(t, 1, &created)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c := lease.Value()

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	acquired := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		acquired <- err
	}()
	select {
	case err := <-acquired:
		assert.ErrorIs(t, err, errs.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("Acquire during Close blocked instead of failing")
	}

	select {
	case <-closed:
		t.Fatal("Close returned while a lease was still out")
	default:
	}
	lease.Release()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the lease came back")
	}
	assert.True(t, c.closed.Load(), "released lease must be destroyed by Close")
}

// A waiter parked before Close is woken with ErrPoolClosed.
func TestPool_CloseReleasesWaiters(t *testing.T) {
	t.Parallel()

	var created atomic.Int64
	p := newConnPool(t, 1, &created)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)

	const waiters = 3
	results := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := p.Acquire(context.Background())
			results <- err
		}()
	}
	time.Sleep(20 * time.Millisecond) // let them park

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	for i := 0; i < waiters; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, errs.ErrPoolClosed)
			assert.False(t, errs.IsCancelled(err))
		case <-time.After(time.Second):
			t.Fatalf("waiter %d still blocked after Close", i)
		}
	}

	lease.Release()
	<-closed
	assert.EqualValues(t, 1, created.Load())
	assert.Zero(t, p.Stats().Total)
}

func TestPool_HTTPSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	defer srv.Close()

	p, err := New(Options[*Session]{
		MaxResources: 1,
		Constructor:  HTTPSessionConstructor(time.Second, time.Minute),
		Destructor:   (*Session).Close,
	})
	require.NoError(t, err)
	defer p.Close()

	var ids []string
	for i := 0; i < 2; i++ {
		err := p.With(context.Background(), func(ctx context.Context, s *Session) error {
			ids = append(ids, s.ID)
			resp, err := s.Get(ctx, srv.URL)
			if err != nil {
				return err
			}
			return resp.Body.Close()
		})
		require.NoError(t, err)
	}
	assert.Equal(t, ids[0], ids[1], "session must be reused")
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	_, err := New(Options[int]{MaxResources: 0, Constructor: func(context.Context) (int, error) { return 0, nil }})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	_, err = New(Options[int]{MaxResources: 1})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}
