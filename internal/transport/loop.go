package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/dispatch"
	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/protocol"
	"github.com/wsprism/wsprism/internal/session"
	"github.com/wsprism/wsprism/internal/tenant"
)

// Loop owns one connection after upgrade. The reader runs on the caller's
// goroutine; a writer and a timer goroutine run alongside. The writer is the
// only goroutine that touches the socket's send side.
type Loop struct {
	conn       *websocket.Conn
	sess       *session.Session
	tenant     *tenant.State
	dispatcher *dispatch.Dispatcher
	metrics    *obs.Metrics
	clk        clock.Clock
	gateway    config.GatewayConfig
	draining   *atomic.Bool
	log        *slog.Logger

	cleanupOnce sync.Once
}

// Run drives the connection until close. Registration failure, queue fatal
// overflow, slow writes, idle timeout, and drain all funnel into the same
// terminal cleanup.
func (l *Loop) Run(ctx context.Context) {
	defer l.cleanup()

	// First frame on the wire, ahead of anything a service could enqueue.
	l.sess.Outbound.Offer(outbound.Item{
		Priority: outbound.Control,
		Payload:  protocol.SysFrame("authed", map[string]any{"user_id": l.sess.User}),
	})

	if err := l.tenant.Registry().Register(l.sess, l.tenant.SessionPolicy()); err != nil {
		l.log.Info("registration refused", "error", err)
		reason := "session limit reached"
		if errors.Is(err, session.ErrTenantFull) {
			reason = "tenant session limit reached"
		}
		_ = l.conn.Close(websocket.StatusPolicyViolation, reason)
		return
	}
	l.metrics.WsSessionsActive.WithLabelValues(l.tenant.ID).Inc()
	defer l.metrics.WsSessionsActive.WithLabelValues(l.tenant.ID).Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.writePump(ctx)
		// Writer exit means terminal state; unblock the reader.
		cancel()
	}()
	go func() {
		defer wg.Done()
		l.timerPump(ctx)
	}()

	l.readPump(ctx)

	// Reader is done: let the writer flush what it can, then tear down.
	l.sess.Outbound.Close()
	cancel()
	wg.Wait()
	l.closeSocket()
}

// readPump processes inbound frames in receive order.
func (l *Loop) readPump(ctx context.Context) {
	for {
		typ, data, err := l.conn.Read(ctx)
		if err != nil {
			return
		}
		l.sess.TouchRx(l.clk.Now())

		if l.draining.Load() {
			l.sess.Outbound.Offer(outbound.Item{
				Priority: outbound.Control,
				Payload:  protocol.SysFrame("shutdown", nil),
			})
			continue
		}

		switch typ {
		case websocket.MessageText:
			l.dispatcher.DispatchText(l.tenant, l.sess, data)
		case websocket.MessageBinary:
			l.dispatcher.DispatchBinary(l.tenant, l.sess, data)
		}

		if l.sess.Outbound.FatalOverflow() {
			l.sess.RequestClose(session.ReasonSlowConsumer)
		}
		select {
		case <-l.sess.CloseRequested():
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// writePump is the sole socket writer. Each write gets its own deadline; a
// blown deadline evicts the session as a slow consumer. After a close
// request the pump drains what is already queued, then stops.
func (l *Loop) writePump(ctx context.Context) {
	timeout := time.Duration(l.gateway.WriterSendTimeoutMs) * time.Millisecond
	closing := false

	for {
		item, ok := l.sess.Outbound.Pop()
		if !ok {
			if closing || l.sess.Outbound.Closed() {
				return
			}
			select {
			case <-l.sess.Outbound.Wait():
			case <-l.sess.CloseRequested():
				closing = true
			case <-ctx.Done():
				return
			}
			continue
		}

		typ := websocket.MessageText
		if item.Binary {
			typ = websocket.MessageBinary
		}
		wctx, wcancel := context.WithTimeout(ctx, timeout)
		err := l.conn.Write(wctx, typ, item.Payload)
		wcancel()
		if err != nil {
			if wctx.Err() != nil && ctx.Err() == nil {
				l.metrics.WriterTimeouts.WithLabelValues(l.tenant.ID).Inc()
				l.sess.RequestClose(session.ReasonSlowConsumer)
				l.log.Warn("writer timeout, evicting slow consumer")
			}
			return
		}
	}
}

// timerPump enqueues keep-alive pings and enforces the idle timeout.
func (l *Loop) timerPump(ctx context.Context) {
	interval := time.Duration(l.gateway.PingIntervalMs) * time.Millisecond
	idle := time.Duration(l.gateway.IdleTimeoutMs) * time.Millisecond

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.sess.CloseRequested():
			return
		case <-ticker.C:
			if l.clk.Since(l.sess.LastRx()) > idle {
				l.sess.RequestClose(session.ReasonIdleTimeout)
				return
			}
			l.sess.Outbound.Offer(outbound.Item{
				Priority: outbound.Control,
				Payload:  protocol.SysFrame("ping", nil),
			})
		}
	}
}

// cleanup leaves all rooms, unregisters, and closes the socket. Runs once no
// matter how many paths reach it.
func (l *Loop) cleanup() {
	l.cleanupOnce.Do(func() {
		l.tenant.Presence().LeaveAll(l.sess)
		l.tenant.Registry().Unregister(l.sess.ID)
		l.sess.Outbound.Close()
		l.closeSocket()
		l.log.Debug("session closed", "reason", l.sess.CloseReason())
	})
}

func (l *Loop) closeSocket() {
	code := websocket.StatusNormalClosure
	reason := l.sess.CloseReason()
	switch reason {
	case session.ReasonPolicyViolation:
		code = websocket.StatusPolicyViolation
	case session.ReasonSlowConsumer:
		code = websocket.StatusPolicyViolation
	case session.ReasonPolicyShutdown:
		code = websocket.StatusGoingAway
	}
	_ = l.conn.Close(code, reason)
}
