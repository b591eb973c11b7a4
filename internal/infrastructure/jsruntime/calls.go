package jsruntime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
)

const callQueueSize = 256

// pendingCall is one hostcall waiting for the worker. Exactly one of reply
// and deliver is set.
type pendingCall struct {
	req     hostcall.Request
	reply   chan hostcall.Outcome
	deliver func(hostcall.Outcome)
}

// caller serializes the hostcalls of one runtime so the dispatcher sees
// them in issue order.
type caller struct {
	extensionID string
	handle      ports.HostHandle
	ids         values.CallIDs
	queue       chan pendingCall
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	logger      *slog.Logger
}

func newCaller(extensionID string, handle ports.HostHandle, logger *slog.Logger) *caller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &caller{
		extensionID: extensionID,
		handle:      handle,
		queue:       make(chan pendingCall, callQueueSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      logger,
	}
	go c.work()
	return c
}

// request builds a wire request. Args that cannot be encoded are reported
// as an invalid request without reaching the dispatcher.
func (c *caller) request(op string, args any) (hostcall.Request, *hostcall.Error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return hostcall.Request{}, hostcall.Errorf(hostcall.CodeInvalidRequest, "encode %s args: %v", op, err)
	}
	return hostcall.Request{
		ExtensionID: c.extensionID,
		CallID:      c.ids.Next(),
		Op:          op,
		Args:        raw,
	}, nil
}

// call blocks until the worker has dispatched op.
func (c *caller) call(op string, args any) hostcall.Outcome {
	req, bad := c.request(op, args)
	if bad != nil {
		return hostcall.Failure(bad)
	}
	reply := make(chan hostcall.Outcome, 1)
	if !c.enqueue(pendingCall{req: req, reply: reply}) {
		return closedOutcome()
	}
	return <-reply
}

// callAsync queues op; deliver receives the outcome on the worker goroutine.
func (c *caller) callAsync(op string, args any, deliver func(hostcall.Outcome)) {
	req, bad := c.request(op, args)
	if bad != nil {
		deliver(hostcall.Failure(bad))
		return
	}
	if !c.enqueue(pendingCall{req: req, deliver: deliver}) {
		deliver(closedOutcome())
	}
}

func (c *caller) enqueue(p pendingCall) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.queue <- p:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *caller) work() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return
		case p := <-c.queue:
			c.finish(p, c.dispatch(p.req))
		}
	}
}

// flush fails whatever is still queued after close.
func (c *caller) flush() {
	for {
		select {
		case p := <-c.queue:
			c.finish(p, closedOutcome())
		default:
			return
		}
	}
}

func (c *caller) finish(p pendingCall, out hostcall.Outcome) {
	if p.reply != nil {
		p.reply <- out
		return
	}
	p.deliver(out)
}

func (c *caller) dispatch(req hostcall.Request) hostcall.Outcome {
	host, ok := c.handle.Resolve()
	if !ok {
		c.logger.Debug("hostcall after shutdown", "extension", c.extensionID, "op", req.Op, "call_id", req.CallID)
		return closedOutcome()
	}
	return host.Dispatch(c.ctx, req)
}

// close cancels the in-flight hostcall and fails queued ones.
func (c *caller) close() {
	c.cancel()
	<-c.done
}

func closedOutcome() hostcall.Outcome {
	return hostcall.Failure(hostcall.Errorf(hostcall.CodeDenied, "extension is shut down (reason: shutdown)"))
}
