// Package pool manages a bounded set of live backend connections under
// concurrent checkout and checkin. Idle connections are reused LIFO so warm
// sessions stay warm; callers that find the pool at capacity wait in a FIFO
// queue so worst-case latency stays bounded.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/quarrier-db/quarrier/driver"
	"github.com/quarrier-db/quarrier/pgerr"
	"github.com/quarrier-db/quarrier/pkg/logger"
)

// DialFunc establishes one backend session. The default dials the configured
// connect target through the pgconn transport; tests inject their own.
type DialFunc func(ctx context.Context, cfg *Config) (driver.Session, error)

// Option customizes a pool at build time.
type Option func(*Pool)

// WithDialer replaces the session dialer.
func WithDialer(dial DialFunc) Option {
	return func(p *Pool) { p.dial = dial }
}

type waiter struct {
	// ch receives the handed-off connection; it is closed on pool teardown.
	ch chan *driver.Connection
}

// Pool is a bounded collection of Connections handed out as exclusive
// leases. At all times idle + leased + dialing <= MaxSize.
type Pool struct {
	cfg     *Config
	dial    DialFunc
	metrics *poolMetrics

	mu      sync.Mutex
	idle    []*driver.Connection
	leased  int
	dialing int
	waiters []*waiter
	closed  bool

	replenishing bool
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Idle    int
	Leased  int
	Dialing int
	MaxSize int
}

// Build validates the configuration, warms the pool to MinSize, and registers
// its metrics. Configuration problems surface here, never at first use;
// establishment failures during warm-up close whatever was already dialed and
// report a pool-build error.
func Build(ctx context.Context, cfg *Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{cfg: cfg, dial: defaultDial}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < cfg.MinSize; i++ {
		conn, err := p.establish(ctx)
		if err != nil {
			p.Close()
			return nil, pgerr.Wrap(pgerr.KindPoolBuild, err,
				"cannot establish connection %d of %d during warm-up", i+1, cfg.MinSize)
		}
		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}
	p.metrics = registerPoolMetrics(ctx, p)
	logger.FromContext(ctx).Info("pool built",
		"pool", cfg.Label,
		"host", cfg.Host,
		"database", cfg.Database,
		"min_size", cfg.MinSize,
		"max_size", cfg.MaxSize)
	return p, nil
}

func defaultDial(ctx context.Context, cfg *Config) (driver.Session, error) {
	return driver.Connect(ctx, cfg.dsn())
}

// establish dials one session under the connect timeout.
func (p *Pool) establish(ctx context.Context) (*driver.Connection, error) {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	sess, err := p.dial(dctx, p.cfg)
	if err != nil {
		return nil, err
	}
	return driver.New(sess, p.cfg.Label), nil
}

// total counts every connection currently accounted for, including ones
// still being established.
func (p *Pool) total() int {
	return len(p.idle) + p.leased + p.dialing
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Leased: p.leased, Dialing: p.dialing, MaxSize: p.cfg.MaxSize}
}

// Acquire leases a connection: the most recently returned idle one if any,
// a freshly dialed one while below capacity, and otherwise the caller joins
// the FIFO wait queue until a release, the configured acquire timeout, or
// ctx cancellation — whichever comes first.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, pgerr.New(pgerr.KindPoolClosed, "pool %q is closed", p.cfg.Label)
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.leased++
		p.mu.Unlock()
		return &Lease{pool: p, conn: conn}, nil
	}
	if p.total() < p.cfg.MaxSize {
		p.dialing++
		p.mu.Unlock()
		conn, err := p.establish(ctx)
		p.mu.Lock()
		p.dialing--
		if err != nil {
			p.mu.Unlock()
			return nil, pgerr.Wrap(pgerr.KindPoolExecute, err, "cannot establish connection for acquire")
		}
		if p.closed {
			p.mu.Unlock()
			p.closeConn(conn)
			return nil, pgerr.New(pgerr.KindPoolClosed, "pool %q is closed", p.cfg.Label)
		}
		p.leased++
		p.mu.Unlock()
		return &Lease{pool: p, conn: conn}, nil
	}
	w := &waiter{ch: make(chan *driver.Connection, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case conn, ok := <-w.ch:
		if !ok {
			return nil, pgerr.New(pgerr.KindPoolClosed, "pool %q closed while waiting", p.cfg.Label)
		}
		p.metrics.recordWait(ctx, time.Since(start))
		return &Lease{pool: p, conn: conn}, nil
	case <-ctx.Done():
		return nil, p.abandonWait(w, pgerr.Wrap(pgerr.KindPoolExecute, ctx.Err(),
			"acquire canceled after %s", time.Since(start).Round(time.Millisecond)))
	case <-timer.C:
		return nil, p.abandonWait(w, pgerr.New(pgerr.KindPoolExecute,
			"acquire timed out after %s", p.cfg.AcquireTimeout))
	}
}

// abandonWait removes w from the queue with no side effects. When a handoff
// raced the timeout the delivered connection goes straight back to checkin.
func (p *Pool) abandonWait(w *waiter, cause error) error {
	p.mu.Lock()
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return cause
		}
	}
	p.mu.Unlock()
	// Not in the queue anymore: a connection was already handed off under
	// the pool lock, so it is guaranteed to be in the buffered channel.
	if conn, ok := <-w.ch; ok {
		p.checkin(conn)
	}
	return cause
}

// checkin is the single return path for leased connections. Healthy ones go
// to the longest waiter or back on the idle stack; Broken ones — and ones
// abandoned mid-transaction — are discarded and replaced in the background.
func (p *Pool) checkin(conn *driver.Connection) {
	p.mu.Lock()
	p.leased--
	if p.closed {
		p.mu.Unlock()
		p.closeConn(conn)
		return
	}
	if conn.Broken() || conn.State() == driver.StateInTransaction {
		p.mu.Unlock()
		logger.GetDefault().Warn("discarding connection at checkin",
			"pool", p.cfg.Label, "state", conn.State().String())
		p.closeConn(conn)
		p.maybeReplenish()
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.leased++
		w.ch <- conn
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// maybeReplenish starts one background replenisher when capacity fell below
// MinSize. Waiters never pay the establishment cost inline.
func (p *Pool) maybeReplenish() {
	p.mu.Lock()
	if p.closed || p.replenishing || p.total() >= p.cfg.MinSize {
		p.mu.Unlock()
		return
	}
	p.replenishing = true
	p.mu.Unlock()
	go p.replenish()
}

// replenish dials replacements until the pool is back at MinSize, retrying
// each establishment with fibonacci backoff.
func (p *Pool) replenish() {
	defer func() {
		p.mu.Lock()
		p.replenishing = false
		p.mu.Unlock()
	}()
	ctx := context.Background()
	for {
		p.mu.Lock()
		if p.closed || p.total() >= p.cfg.MinSize {
			p.mu.Unlock()
			return
		}
		p.dialing++
		p.mu.Unlock()

		var conn *driver.Connection
		backoff := retry.WithMaxRetries(5, retry.NewFibonacci(250*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			c, dialErr := p.establish(ctx)
			if dialErr != nil {
				return retry.RetryableError(dialErr)
			}
			conn = c
			return nil
		})

		p.mu.Lock()
		p.dialing--
		if err != nil {
			p.mu.Unlock()
			logger.GetDefault().Warn("replenishment gave up", "pool", p.cfg.Label, "err", err)
			return
		}
		if p.closed {
			p.mu.Unlock()
			p.closeConn(conn)
			return
		}
		if len(p.waiters) > 0 {
			w := p.waiters[0]
			p.waiters = p.waiters[1:]
			p.leased++
			w.ch <- conn
			p.mu.Unlock()
			continue
		}
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}
}

// Close tears the pool down: idle connections close immediately, leased ones
// close when released, queued waiters fail with a pool-closed error, and no
// new acquire succeeds.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
	for _, conn := range idle {
		p.closeConnSync(conn)
	}
	if p.metrics != nil {
		p.metrics.unregister()
	}
	logger.GetDefault().Info("pool closed", "pool", p.cfg.Label)
}

const closeTimeout = 5 * time.Second

func (p *Pool) closeConn(conn *driver.Connection) {
	go p.closeConnSync(conn)
}

func (p *Pool) closeConnSync(conn *driver.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		logger.GetDefault().Debug("connection close failed", "pool", p.cfg.Label, "err", err)
	}
}

// Lease is exclusive ownership of one connection, valid until Release.
type Lease struct {
	pool     *Pool
	conn     *driver.Connection
	released atomic.Bool
}

// Conn returns the leased connection.
func (l *Lease) Conn() *driver.Connection { return l.conn }

// Release returns the connection to the pool. Safe to call more than once;
// only the first call checks the connection in.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.checkin(l.conn)
}
