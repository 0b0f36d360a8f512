// Package sessions multiplexes concurrent callers onto a small pool of
// blocking warehouse sessions. A session never runs two statements at the
// same time; callers hand statements to a per-session worker goroutine and
// wait on a future for the result.
package sessions

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog"
)

var (
	// ErrConnectionUnavailable is returned when no healthy session could be
	// acquired or established within the configured bounds.
	ErrConnectionUnavailable = errors.New("no database session available")

	// ErrTimeout is returned when statement execution exceeds its deadline.
	// The session that ran the statement is recycled: the driver cannot be
	// trusted to have actually cancelled the statement server-side.
	ErrTimeout = errors.New("statement execution timed out")
)

// ExecError wraps an error the warehouse reported for a statement. The
// upstream message is surfaced verbatim and the statement is never retried.
type ExecError struct {
	Cause error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("statement execution failed: %v", e.Cause)
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// Conn is one authenticated, stateful warehouse connection. Implementations
// do not need to be safe for concurrent use; the pool guarantees exclusive
// access.
type Conn interface {
	Query(ctx context.Context, sql string) (columns []string, rows []map[string]any, err error)
	Close() error
}

// Connector establishes new Conns, re-running the same authentication and
// configuration handshake every time.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Config holds pool settings. Zero values get defaults in NewPool.
type Config struct {
	// MaxSessions is the number of warehouse sessions the pool owns.
	MaxSessions int
	// MaxWaiters bounds how many callers may queue for a session before
	// further callers fail fast with ErrConnectionUnavailable.
	MaxWaiters int
	// AcquireTimeout bounds how long a queued caller waits for a session.
	AcquireTimeout time.Duration
}

// Record is the immutable outcome of one successfully executed statement.
type Record struct {
	// ID is unique within the process lifetime, issued after completion.
	ID         string
	Columns    []string
	Rows       []map[string]any
	RowCount   int
	ExecutedAt time.Time
	SessionID  uint64
}

type job struct {
	ctx     context.Context
	sql     string
	promise *future.Promise[*Record]
	done    chan struct{}
}

// session wraps one Conn with an identity and health state. The broken flag
// is written by the session's worker and by callers that abandon a statement
// at their deadline, so it must be atomic.
type session struct {
	id       uint64
	pool     *Pool
	conn     Conn
	broken   atomic.Bool
	lastUsed time.Time
	jobs     chan job
}

// Pool is the sole entry point for running SQL against the warehouse. Safe
// for use from unbounded concurrent callers.
type Pool struct {
	cfg       Config
	connector Connector
	logger    zerolog.Logger

	idle       chan *session
	waiters    atomic.Int64
	resultSeq  atomic.Uint64
	sessionSeq atomic.Uint64
	recycled   atomic.Uint64
	closed     atomic.Bool
}

// NewPool creates a pool of MaxSessions lazily-connected sessions.
// Panics on invalid config; runtime failures are returned by Execute.
func NewPool(connector Connector, cfg Config, logger zerolog.Logger) *Pool {
	if connector == nil {
		panic("sessions: connector must not be nil")
	}
	if cfg.MaxSessions <= 0 {
		panic("sessions: MaxSessions must be > 0")
	}
	if cfg.MaxWaiters <= 0 {
		cfg.MaxWaiters = 32
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}

	p := &Pool{
		cfg:       cfg,
		connector: connector,
		logger:    logger,
		idle:      make(chan *session, cfg.MaxSessions),
	}
	for i := 0; i < cfg.MaxSessions; i++ {
		p.idle <- p.newSession()
	}
	return p
}

// Execute runs sql on an exclusively held session and returns a Record with
// a freshly issued identifier. The context deadline bounds how long the
// caller waits, not how long the driver runs: at the deadline the statement
// is abandoned with ErrTimeout and the session is marked broken, because the
// driver cannot be trusted to have cancelled it server-side. The worker owns
// the session until the driver returns and recycles it then.
func (p *Pool) Execute(ctx context.Context, sql string) (*Record, error) {
	if sql == "" {
		return nil, &ExecError{Cause: errors.New("empty SQL statement")}
	}
	s, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	prom := future.NewPromise[*Record]()
	done := make(chan struct{})
	s.jobs <- job{ctx: ctx, sql: sql, promise: prom, done: done}

	select {
	case <-done:
		return prom.Future().Get()
	case <-ctx.Done():
		// Prefer a result that raced the deadline over discarding it.
		select {
		case <-done:
			return prom.Future().Get()
		default:
		}
		s.broken.Store(true)
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// acquire hands out an idle session, queueing up to MaxWaiters callers for
// at most AcquireTimeout. Everything beyond that fails fast for backpressure.
func (p *Pool) acquire(ctx context.Context) (*session, error) {
	select {
	case s := <-p.idle:
		return s, nil
	default:
	}

	if p.waiters.Add(1) > int64(p.cfg.MaxWaiters) {
		p.waiters.Add(-1)
		return nil, fmt.Errorf("%w: all %d sessions busy and waiter queue is full",
			ErrConnectionUnavailable, p.cfg.MaxSessions)
	}
	defer p.waiters.Add(-1)

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case s := <-p.idle:
		return s, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no session became idle within %s",
			ErrConnectionUnavailable, p.cfg.AcquireTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: caller gave up while waiting: %v",
			ErrConnectionUnavailable, ctx.Err())
	}
}

// release returns a session to the idle pool, replacing it first if its
// last statement marked it Broken. Replacement is lazy: the fresh session
// connects on its next statement.
func (p *Pool) release(s *session) {
	if s.broken.Load() {
		s.shutdown()
		p.recycled.Add(1)
		p.logger.Warn().Uint64("session_id", s.id).Msg("recycling broken session")
		s = p.newSession()
	}
	if p.closed.Load() {
		s.shutdown()
		return
	}
	s.lastUsed = time.Now()
	p.idle <- s
}

func (p *Pool) newSession() *session {
	s := &session{
		id:   p.sessionSeq.Add(1),
		pool: p,
		jobs: make(chan job),
	}
	go s.run()
	return s
}

// Close shuts down all idle sessions. Sessions held by in-flight callers
// are shut down when released.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		select {
		case s := <-p.idle:
			s.shutdown()
		default:
			return
		}
	}
}

// InUse reports how many sessions are currently held by callers.
func (p *Pool) InUse() int {
	return p.cfg.MaxSessions - len(p.idle)
}

// Recycled reports how many broken sessions have been replaced.
func (p *Pool) Recycled() uint64 {
	return p.recycled.Load()
}

// run is the session's worker loop. All blocking driver work happens here,
// never on the caller's goroutine. The worker releases the session after
// each statement so that a caller abandoning at its deadline cannot leak
// the pool slot: the slot comes back when the driver finally returns.
func (s *session) run() {
	for j := range s.jobs {
		rec, err := s.execute(j)
		j.promise.Set(rec, err)
		close(j.done)
		s.pool.release(s)
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *session) execute(j job) (*Record, error) {
	if err := j.ctx.Err(); err != nil {
		// Caller's deadline already passed before we touched the driver.
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	if s.conn == nil {
		conn, err := s.pool.connector.Connect(j.ctx)
		if err != nil {
			s.broken.Store(true)
			return nil, fmt.Errorf("%w: connect failed: %v", ErrConnectionUnavailable, err)
		}
		s.conn = conn
		s.pool.logger.Info().Uint64("session_id", s.id).Msg("warehouse session established")
	}

	cols, rows, err := s.conn.Query(j.ctx, j.sql)
	if err != nil {
		if j.ctx.Err() != nil {
			s.broken.Store(true)
			return nil, fmt.Errorf("%w: %v", ErrTimeout, j.ctx.Err())
		}
		if isTransportError(err) {
			s.broken.Store(true)
		}
		return nil, &ExecError{Cause: err}
	}

	return &Record{
		ID:         strconv.FormatUint(s.pool.resultSeq.Add(1), 10),
		Columns:    cols,
		Rows:       rows,
		RowCount:   len(rows),
		ExecutedAt: time.Now(),
		SessionID:  s.id,
	}, nil
}

func (s *session) shutdown() {
	close(s.jobs)
}

// isTransportError reports whether err indicates the underlying connection
// is unusable, as opposed to the warehouse rejecting the statement.
func isTransportError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
