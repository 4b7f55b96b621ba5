package smtp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywire/smtpclient/internal/smtplog"
)

// connState is the Connection's tri-state lifecycle, held in an int32 field
// accessed only through sync/atomic so that IsConnected (and the defensive
// checks inside Write/Close) can read it from any goroutine without a
// mutex. Per spec.md's design note on the
// sum-type connection state field: the mutex the teacher's own Connection
// keeps around its stage field is an artifact of a single-threaded design
// being ported; a lock-free tri-state is sufficient here because the only
// thing ever read off the driver loop is "which of these three states are we
// in", never any compound state.
type connState int32

const (
	stateOpen connState = iota
	stateShuttingDown
	stateClosed
)

// requestResult is delivered back to the caller of Write once the driver
// loop has matched a reply (or a cascade failure) to the caller's request.
type requestResult struct {
	Reply Reply
	Err   error
}

// pendingRequest is one FIFO slot: a request that has been written to the
// wire and is now waiting for its reply, per spec.md §5's strict
// request/reply ordering invariant.
type pendingRequest struct {
	resultCh chan requestResult
}

// writeJob is submitted to the driver loop by Write and by Close's internal
// QUIT. bypassStateCheck lets Close's own QUIT traverse the same enqueue-then
// -write code path after the state has already flipped to stateShuttingDown,
// rather than duplicating that logic — the driver loop is the only place
// that actually understands how to enqueue-then-write, and Close should not
// need a second copy of it.
type writeJob struct {
	outbound         Outbound
	resultCh         chan requestResult
	bypassStateCheck bool
}

// readEvent is what the reader goroutine sends to the driver loop: either a
// decoded reply, or a terminal error (decode failure or I/O failure, the
// distinction does not matter to the driver loop — both drain the queue and
// tear the connection down, per spec.md §4.4's "Error cascade" paragraph).
type readEvent struct {
	reply Reply
	err   error
}

// Connection is the duplex driver described by spec.md §5: one dedicated
// goroutine (the driver loop) owns a FIFO of pendingRequest values and
// matches each arriving reply to the oldest outstanding request, strictly in
// order. A second goroutine (the reader loop) does nothing but blocking
// reads off the wire and hands decoded replies (or a terminal error) to the
// driver loop over a channel.
//
// Grounded on daemon/smtpd/smtp/connection.go's Connection type for the
// field layout (config, underlying net.Conn, logger) and on inet/ip.go's
// goroutine-plus-select idiom for the concurrency shape, generalized from a
// one-shot race to a long-lived duplex loop.
type Connection struct {
	cfg    Config
	conn   net.Conn
	logger *smtplog.Logger

	state int32 // read/written only via atomic.Load/StoreInt32; see connState

	// terminalErr holds the cause of the connection's terminal state (a
	// *errBox, never a bare error, so atomic.Value sees one consistent
	// concrete type across every Store). nil until the driver loop first
	// leaves stateOpen for a reason other than a clean Close. Read by Write
	// once state != open, per spec.md §4.4: "the promise is failed
	// immediately with the stored terminal error."
	terminalErr atomic.Value

	writeCh chan writeJob
	readCh  chan readEvent
	doneCh  chan struct{}

	closeOnce   sync.Once
	closeResult error
}

// errBox wraps an error so it can be stored in a sync/atomic.Value, which
// panics if given inconsistent concrete types across calls to Store (a bare
// error interface value's concrete type varies with its cause).
type errBox struct{ err error }

// storeTerminalErr records cause as the connection's terminal error, if one
// hasn't already been recorded. Only ever called from the driver loop, which
// is single-threaded, so no compare-and-swap race is possible. A nil cause
// records nothing; a clean, caller-initiated Close never records a cause,
// which intentionally leaves terminalErr unset.
func (c *Connection) storeTerminalErr(cause error) {
	if cause == nil || c.terminalErr.Load() != nil {
		return
	}
	c.terminalErr.Store(&errBox{err: cause})
}

// loadTerminalErr returns the recorded terminal error, or nil if the
// connection was closed cleanly (or hasn't terminated at all).
func (c *Connection) loadTerminalErr() error {
	v := c.terminalErr.Load()
	if v == nil {
		return nil
	}
	return v.(*errBox).err
}

// Connect dials the server per cfg, reads and validates its greeting, and
// starts the driver and reader loops. The returned Connection is ready for
// Write immediately; the greeting's 220 reply is consumed internally and
// never delivered through Write.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()

	var conn net.Conn
	err := traceRoundTrip(ctx, "smtp.connect", func(ctx context.Context) error {
		c, dialErr := dial(ctx, cfg)
		conn = c
		return dialErr
	})
	if err != nil {
		return nil, err
	}
	return newConnection(conn, cfg)
}

// newConnection wires an already-established net.Conn (dialed by Connect, or
// supplied directly by a test double) into a running Connection: it starts
// the reader and driver loops and consumes the server's greeting before
// returning. Split out from Connect so the driver's own logic can be
// exercised in tests against net.Pipe without a real TCP dial.
func newConnection(conn net.Conn, cfg Config) (*Connection, error) {
	c := &Connection{
		cfg:     cfg,
		conn:    conn,
		logger:  cfg.Logger,
		writeCh: make(chan writeJob),
		readCh:  make(chan readEvent, 1),
		doneCh:  make(chan struct{}),
	}

	// The greeting's pendingRequest is seeded into the FIFO before either
	// loop starts, so the queue is never empty when the reader goroutine's
	// first decoded reply reaches the driver loop.
	greeting := &pendingRequest{resultCh: make(chan requestResult, 1)}
	queue := []*pendingRequest{greeting}

	go c.readerLoop()
	go c.driverLoop(queue)

	reply := <-greeting.resultCh
	if reply.Err != nil {
		c.conn.Close()
		return nil, reply.Err
	}
	if reply.Reply.Code.Value() != 220 {
		c.conn.Close()
		return nil, &InvalidReplyError{Reply: reply.Reply}
	}
	return c, nil
}

// readerLoop does nothing but blocking reads off the wire, feeding a
// ReplyFramer and forwarding every decoded reply (or terminal error) to the
// driver loop. It exits as soon as it reports an error or the connection is
// torn down, per spec.md §5's single-reader invariant.
func (c *Connection) readerLoop() {
	framer := &ReplyFramer{}
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			for {
				reply, ok, decodeErr := framer.Next()
				if decodeErr != nil {
					c.sendReadEvent(readEvent{err: decodeErr})
					return
				}
				if !ok {
					break
				}
				c.cfg.Metrics.observeReplyReceived()
				c.sendReadEvent(readEvent{reply: reply})
			}
		}
		if err != nil {
			c.logger.MaybeMinorError("readerLoop", err)
			c.sendReadEvent(readEvent{err: err})
			return
		}
	}
}

// sendReadEvent forwards ev to the driver loop, giving up silently once the
// connection has already torn down (doneCh closed) so the reader goroutine
// can exit instead of blocking forever on a driver loop that is no longer
// listening.
func (c *Connection) sendReadEvent(ev readEvent) {
	select {
	case c.readCh <- ev:
	case <-c.doneCh:
	}
}

// driverLoop owns queue exclusively: no other goroutine ever reads or
// mutates it, satisfying spec.md §5's single-writer-to-state rule without
// needing a mutex around the queue itself.
func (c *Connection) driverLoop(queue []*pendingRequest) {
	defer close(c.doneCh)
	for {
		select {
		case job := <-c.writeCh:
			if !job.bypassStateCheck && connState(atomic.LoadInt32(&c.state)) != stateOpen {
				job.resultCh <- requestResult{Err: &ConnectionClosedError{Cause: c.loadTerminalErr()}}
				continue
			}
			bytes, err := job.outbound.Encode()
			if err != nil {
				job.resultCh <- requestResult{Err: err}
				continue
			}
			req := &pendingRequest{resultCh: job.resultCh}
			queue = append(queue, req)
			c.cfg.Metrics.setQueueDepth(len(queue))
			if _, err := c.conn.Write(bytes); err != nil {
				// Per spec.md §4.4's "Write" paragraph and design note (b):
				// a write failure fails only the request that was writing,
				// not the whole connection. Remove it from the queue before
				// failing it so a later reply is never matched against a
				// slot that no caller is waiting on.
				queue = removePending(queue, req)
				c.cfg.Metrics.setQueueDepth(len(queue))
				req.resultCh <- requestResult{Err: err}
				continue
			}
			if job.outbound.Kind == OutboundSequence {
				for range job.outbound.Commands {
					c.cfg.Metrics.observeCommandWritten()
				}
			} else {
				c.cfg.Metrics.observeCommandWritten()
			}

		case ev := <-c.readCh:
			if len(queue) == 0 {
				if ev.err != nil {
					// The socket going away with nothing outstanding is the
					// expected shape of Close's own teardown (it closes the
					// connection right after its QUIT reply is already
					// matched), not a protocol violation. Still record the
					// cause: if the socket instead vanished unexpectedly
					// before any caller-initiated Close, a later Write must
					// report that cause rather than a bare connection-closed.
					if connState(atomic.LoadInt32(&c.state)) == stateOpen {
						c.storeTerminalErr(ev.err)
					}
					atomic.StoreInt32(&c.state, int32(stateClosed))
					c.conn.Close()
					return
				}
				// A reply arrived with nothing outstanding to match it to:
				// a protocol order violation, fatal to the connection per
				// spec.md §7.
				c.cascade(queue, newProtocolError(KindReplyCodeUnparsable, "unexpected reply with empty queue"))
				return
			}
			req := queue[0]
			queue = queue[1:]
			c.cfg.Metrics.setQueueDepth(len(queue))
			if ev.err != nil {
				req.resultCh <- requestResult{Err: ev.err}
				c.cascade(queue, ev.err)
				return
			}
			req.resultCh <- requestResult{Reply: ev.reply}
			if connState(atomic.LoadInt32(&c.state)) == stateClosed {
				return
			}

		case <-c.doneCh:
			return
		}
	}
}

// cascade fails every request still waiting in queue with cause, per
// spec.md §4.4's "Error cascade" paragraph, and marks the connection closed.
func (c *Connection) cascade(queue []*pendingRequest, cause error) {
	c.storeTerminalErr(cause)
	atomic.StoreInt32(&c.state, int32(stateClosed))
	for _, req := range queue {
		req.resultCh <- requestResult{Err: cause}
	}
	c.cfg.Metrics.setQueueDepth(0)
	c.cfg.Metrics.observeProtocolError(cascadeKind(cause))
	c.conn.Close()
}

func cascadeKind(err error) string {
	if pe, ok := err.(*ProtocolError); ok {
		return pe.Kind.String()
	}
	return "transport"
}

func removePending(queue []*pendingRequest, target *pendingRequest) []*pendingRequest {
	out := queue[:0]
	for _, req := range queue {
		if req != target {
			out = append(out, req)
		}
	}
	return out
}

// Write enqueues outbound for transmission and blocks until the driver loop
// has matched its reply, observed a write failure specific to this request,
// or cascaded the whole connection. It is safe to call concurrently from
// multiple goroutines; requests are served to the wire, and matched to
// replies, in the order the driver loop happens to dequeue them from
// writeCh — spec.md §5 only promises FIFO ordering between writes that have
// already been accepted onto the wire, not fairness between concurrent
// callers racing to enqueue.
func (c *Connection) Write(ctx context.Context, outbound Outbound) (Reply, error) {
	if connState(atomic.LoadInt32(&c.state)) != stateOpen {
		return Reply{}, &ConnectionClosedError{Cause: c.loadTerminalErr()}
	}
	var reply Reply
	err := traceRoundTrip(ctx, "smtp.write", func(ctx context.Context) error {
		job := writeJob{outbound: outbound, resultCh: make(chan requestResult, 1)}
		select {
		case c.writeCh <- job:
		case <-c.doneCh:
			return &ConnectionClosedError{Cause: c.loadTerminalErr()}
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case res := <-job.resultCh:
			reply = res.Reply
			return res.Err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return reply, err
}

// IsConnected reports whether the connection is still accepting new writes.
func (c *Connection) IsConnected() bool {
	return connState(atomic.LoadInt32(&c.state)) == stateOpen
}

// Close drives the QUIT-based shutdown sequence in spec.md §6: send QUIT,
// wait for its 221 farewell (or any error), then tear down the channels.
// Close is idempotent — every concurrent caller blocks on the same
// underlying shutdown and observes the same composite result, per
// sync.Once's standard idiom (grounded on inet/ip.go's sync.Once-guarded
// lazy-init shape, repurposed here for idempotent teardown instead of
// idempotent first-use).
func (c *Connection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		_ = traceRoundTrip(ctx, "smtp.close", func(ctx context.Context) error {
			atomic.StoreInt32(&c.state, int32(stateShuttingDown))
			job := writeJob{
				outbound:         SingleOutbound(QUIT()),
				resultCh:         make(chan requestResult, 1),
				bypassStateCheck: true,
			}
			var serverErr error
			select {
			case c.writeCh <- job:
				select {
				case res := <-job.resultCh:
					if res.Err != nil {
						serverErr = res.Err
					} else if res.Reply.Code.Value() != 221 {
						serverErr = &InvalidReplyError{Reply: res.Reply}
					}
				case <-c.doneCh:
				case <-ctx.Done():
					serverErr = ctx.Err()
				}
			case <-c.doneCh:
			case <-ctx.Done():
				serverErr = ctx.Err()
			}

			atomic.StoreInt32(&c.state, int32(stateClosed))
			channelErr := c.conn.Close()
			if errors.Is(channelErr, net.ErrClosed) {
				// The driver loop (or a prior, racing teardown path) may have
				// already closed the transport by the time Close gets here —
				// per spec.md §4.4, "an already-closed channel reported by
				// the transport during shutdown is treated as success."
				channelErr = nil
			}
			<-c.doneCheckDone(300 * time.Millisecond)

			if serverErr != nil || channelErr != nil {
				c.closeResult = &ConnectionCloseError{ServerErr: serverErr, ChannelErr: channelErr}
			}
			return c.closeResult
		})
	})
	return c.closeResult
}

// doneCheckDone waits for the driver loop to actually exit (doneCh closed)
// or a short grace period, whichever comes first, so Close does not hang
// forever if the driver loop is stuck on a send nobody drains.
func (c *Connection) doneCheckDone(grace time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-c.doneCh:
		case <-time.After(grace):
		}
	}()
	return out
}

// CloseFuture returns a channel that is closed once the connection's driver
// loop has exited, for callers that want to observe teardown (triggered by
// either Close or a cascade failure) without driving it themselves.
func (c *Connection) CloseFuture() <-chan struct{} {
	return c.doneCh
}
