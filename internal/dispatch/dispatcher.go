package dispatch

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/policy"
	"github.com/wsprism/wsprism/internal/protocol"
	"github.com/wsprism/wsprism/internal/session"
	"github.com/wsprism/wsprism/internal/tenant"
	"github.com/wsprism/wsprism/pkg/realtime"
)

// Lane labels for metrics.
const (
	laneExt = "ext"
	laneHot = "hot"
)

// Dispatcher runs one inbound frame through admission and its handler.
// Frames from one connection arrive in receive order; the dispatcher never
// reorders them.
type Dispatcher struct {
	services *Registry
	metrics  *obs.Metrics
	log      *slog.Logger
}

// New creates a dispatcher.
func New(services *Registry, metrics *obs.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		services: services,
		metrics:  metrics,
		log:      log.With("component", "dispatch"),
	}
}

// DispatchText processes one Ext Lane frame. A Close verdict condemns the
// session; everything else is absorbed here.
func (d *Dispatcher) DispatchText(st *tenant.State, sess *session.Session, data []byte) {
	pl := sess.Pipeline()

	if dec := pl.CheckSize(len(data)); dec.Verdict == policy.Close {
		d.decide(st.ID, laneExt, dec)
		sess.RequestClose(session.ReasonPolicyViolation)
		return
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		d.metrics.DecodeErrors.WithLabelValues(st.ID, laneExt).Inc()
		d.reply(sess, protocol.SysError(policy.CodeMalformedFrame, "cannot decode envelope"))
		return
	}

	if env.Svc == protocol.SysService {
		d.handleSys(st, sess, env)
		return
	}

	dec := pl.AdmitExt(env.Svc, env.Type)
	d.decide(st.ID, laneExt, dec)
	switch dec.Verdict {
	case policy.Drop:
		d.reply(sess, protocol.SysFrame("rate_limited", nil))
		return
	case policy.Reject:
		d.reply(sess, protocol.SysError(dec.Code, ""))
		return
	case policy.Close:
		sess.RequestClose(session.ReasonPolicyViolation)
		return
	}

	svc, ok := d.services.LookupExt(env.Svc)
	if !ok {
		d.metrics.UnknownService.WithLabelValues(laneExt).Inc()
		d.reply(sess, protocol.SysError(policy.CodePolicyDenied, "no such service"))
		return
	}

	msg := realtime.ExtMessage{
		Type:         env.Type,
		Room:         env.Room,
		Seq:          env.Seq,
		HasSeq:       env.Flags&protocol.ExtFlagSeqPresent != 0,
		AckRequested: env.Flags&protocol.ExtFlagAckRequested != 0,
		Data:         env.Data,
	}

	start := time.Now()
	action := d.invokeExt(svc, d.ctxFor(sess), msg)
	d.metrics.DispatchDuration.WithLabelValues(laneExt, env.Svc).Observe(time.Since(start).Seconds())

	d.applyExt(st, sess, env, action)
}

// DispatchBinary processes one Hot Lane frame. The payload aliases the read
// buffer, so everything here completes before the caller reuses it.
func (d *Dispatcher) DispatchBinary(st *tenant.State, sess *session.Session, data []byte) {
	pl := sess.Pipeline()

	if dec := pl.CheckSize(len(data)); dec.Verdict == policy.Close {
		d.decide(st.ID, laneHot, dec)
		sess.RequestClose(session.ReasonPolicyViolation)
		return
	}

	frame, err := protocol.DecodeHotFrame(data)
	if err != nil {
		d.metrics.DecodeErrors.WithLabelValues(st.ID, laneHot).Inc()
		if pl.MalformedHot().Silent {
			return
		}
		d.reply(sess, protocol.SysError(policy.CodeMalformedFrame, "cannot decode frame"))
		return
	}

	activeRoom := sess.ActiveRoom()
	dec := pl.AdmitHot(frame.SvcID, frame.Opcode, activeRoom != "")
	d.decide(st.ID, laneHot, dec)
	if dec.Verdict != policy.Pass {
		if dec.Code == policy.CodeHotNoActiveRoom {
			d.metrics.HotRejectedNoRoom.WithLabelValues(st.ID).Inc()
		}
		if !dec.Silent {
			d.reply(sess, protocol.SysError(dec.Code, ""))
		}
		return
	}

	svc, ok := d.services.LookupHot(frame.SvcID)
	if !ok {
		d.metrics.UnknownService.WithLabelValues(laneHot).Inc()
		if pl.MalformedHot().Silent {
			return
		}
		d.reply(sess, protocol.SysError(policy.CodePolicyDenied, "no such service"))
		return
	}

	msg := realtime.HotMessage{
		Opcode:       frame.Opcode,
		Seq:          frame.Seq,
		HasSeq:       frame.HasSeq,
		AckRequested: frame.Flags&protocol.HotFlagAckRequested != 0,
		Payload:      frame.Payload,
	}

	svcLabel := strconv.Itoa(int(frame.SvcID))
	start := time.Now()
	action := d.invokeHot(svc, d.ctxFor(sess), msg)
	d.metrics.DispatchDuration.WithLabelValues(laneHot, svcLabel).Observe(time.Since(start).Seconds())

	d.applyHot(st, sess, frame, action, svcLabel)
}

func (d *Dispatcher) ctxFor(sess *session.Session) realtime.Ctx {
	return realtime.Ctx{
		SessionID:  sess.ID,
		User:       sess.User,
		Tenant:     sess.Tenant,
		ActiveRoom: sess.ActiveRoom(),
	}
}

// invokeExt calls the handler, converting a panic into an error action so a
// broken service cannot take the connection down.
func (d *Dispatcher) invokeExt(svc realtime.ExtService, ctx realtime.Ctx, msg realtime.ExtMessage) (action realtime.Action) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("service panic", "svc", svc.Name(), "panic", fmt.Sprint(r))
			action = realtime.Error("internal_error", "")
		}
	}()
	return svc.HandleExt(ctx, msg)
}

func (d *Dispatcher) invokeHot(svc realtime.HotService, ctx realtime.Ctx, msg realtime.HotMessage) (action realtime.Action) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("service panic", "svc_id", svc.SvcID(), "panic", fmt.Sprint(r))
			action = realtime.Error("internal_error", "")
		}
	}()
	return svc.HandleHot(ctx, msg)
}

func (d *Dispatcher) applyExt(st *tenant.State, sess *session.Session, env *protocol.Envelope, action realtime.Action) {
	switch action.Kind {
	case realtime.ActNoop:

	case realtime.ActAck:
		if env.Flags&protocol.ExtFlagAckRequested != 0 && env.Flags&protocol.ExtFlagSeqPresent != 0 {
			d.reply(sess, protocol.SysFrame("ack", map[string]any{"svc": env.Svc, "seq": env.Seq}))
		}

	case realtime.ActForward:
		sess.Outbound.Offer(toOutbound(action.Item))

	case realtime.ActBroadcast:
		exclude := sess.ID
		if !action.ExcludeSelf {
			exclude = uuid.Nil
		}
		st.Presence().Broadcast(action.Room, toOutbound(action.Item), exclude)

	case realtime.ActError:
		d.metrics.ServiceErrors.WithLabelValues(env.Svc).Inc()
		d.reply(sess, protocol.SysError(action.ErrCode, action.ErrMessage))
	}
}

func (d *Dispatcher) applyHot(st *tenant.State, sess *session.Session, frame protocol.HotFrame, action realtime.Action, svcLabel string) {
	switch action.Kind {
	case realtime.ActNoop:

	case realtime.ActAck:
		// An ack is only meaningful with a sequence number to echo.
		if frame.Flags&protocol.HotFlagAckRequested != 0 && frame.HasSeq {
			ack := protocol.EncodeHotFrame(protocol.HotFrame{
				V:      protocol.Version,
				SvcID:  frame.SvcID,
				Opcode: frame.Opcode,
				Flags:  protocol.HotFlagSeqPresent,
				Seq:    frame.Seq,
			})
			sess.Outbound.Offer(outbound.Item{Priority: outbound.Control, Binary: true, Payload: ack})
		}

	case realtime.ActForward:
		sess.Outbound.Offer(toOutbound(action.Item))

	case realtime.ActBroadcast:
		exclude := sess.ID
		if !action.ExcludeSelf {
			exclude = uuid.Nil
		}
		st.Presence().Broadcast(action.Room, toOutbound(action.Item), exclude)

	case realtime.ActError:
		d.metrics.ServiceErrors.WithLabelValues(svcLabel).Inc()
		if !sess.Pipeline().MalformedHot().Silent {
			d.reply(sess, protocol.SysError(action.ErrCode, action.ErrMessage))
		}
	}
}

// toOutbound maps an SDK item onto a queue item. Services never produce
// Control traffic.
func toOutbound(item realtime.Item) outbound.Item {
	prio := outbound.Reliable
	if item.Lossy {
		prio = outbound.Lossy
	}
	return outbound.Item{
		Priority: prio,
		Binary:   item.Binary,
		Payload:  item.Payload,
		Key:      item.Key,
	}
}

// reply enqueues a Control frame to the sender.
func (d *Dispatcher) reply(sess *session.Session, payload []byte) {
	sess.Outbound.Offer(outbound.Item{Priority: outbound.Control, Payload: payload})
}

func (d *Dispatcher) decide(tenantID, lane string, dec policy.Decision) {
	label := "pass"
	switch dec.Verdict {
	case policy.Drop:
		label = "drop"
	case policy.Reject:
		label = "reject"
	case policy.Close:
		label = "close"
	}
	d.metrics.PolicyDecisions.WithLabelValues(tenantID, lane, label).Inc()
}
