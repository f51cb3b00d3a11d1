package policy

import (
	"github.com/wsprism/wsprism/internal/ratelimit"
)

// Scope selects which token buckets a frame debits.
type Scope int

// Rate-limit scopes.
const (
	ScopeTenant Scope = iota
	ScopeConnection
	ScopeBoth
)

// String returns the config spelling of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeTenant:
		return "tenant"
	case ScopeConnection:
		return "connection"
	case ScopeBoth:
		return "both"
	}
	return "unknown"
}

// ParseScope maps the config spelling to a Scope.
func ParseScope(s string) (Scope, bool) {
	switch s {
	case "tenant":
		return ScopeTenant, true
	case "connection":
		return ScopeConnection, true
	case "both":
		return ScopeBoth, true
	}
	return 0, false
}

// HotErrorMode controls whether Hot Lane rejections are reported to the
// client or swallowed.
type HotErrorMode int

// Hot error modes.
const (
	HotErrSys HotErrorMode = iota
	HotErrSilent
)

// ParseHotErrorMode maps the config spelling to a HotErrorMode.
func ParseHotErrorMode(s string) (HotErrorMode, bool) {
	switch s {
	case "sys_error":
		return HotErrSys, true
	case "silent":
		return HotErrSilent, true
	}
	return 0, false
}

// Verdict is the outcome class of a pipeline check.
type Verdict int

// Verdicts, from most to least permissive.
const (
	Pass   Verdict = iota
	Drop           // count it, discard the frame, notify the sender
	Reject         // count it, notify per lane rules
	Close          // condemn the connection
)

// Rejection codes surfaced in sys/error frames, close reasons, and metrics.
const (
	CodePolicyViolation = "policy_violation"
	CodeMalformedFrame  = "malformed_frame"
	CodePolicyDenied    = "policy_denied"
	CodeRateLimited     = "rate_limited"
	CodeHotNoActiveRoom = "hot_no_active_room"
)

// Decision is the result of one pipeline stage. Silent means no error frame
// is owed to the client even though the verdict is Reject.
type Decision struct {
	Verdict Verdict
	Code    string
	Silent  bool
}

var pass = Decision{Verdict: Pass}

// Pipeline holds one tenant's compiled admission state for one connection.
// It is immutable; hot reload publishes a fresh Pipeline via atomic pointer
// swap at the session layer.
type Pipeline struct {
	MaxFrameBytes         int
	Scope                 Scope
	HotErrMode            HotErrorMode
	HotRequiresActiveRoom bool
	Allow                 *Allowlist

	// TenantBucket is shared across the tenant's connections; ConnBucket is
	// private to this connection. Either may be nil when the scope leaves it
	// unused.
	TenantBucket *ratelimit.Bucket
	ConnBucket   *ratelimit.Bucket
}

// CheckSize runs the frame-size stage. Oversized frames condemn the
// connection.
func (p *Pipeline) CheckSize(n int) Decision {
	if p.MaxFrameBytes > 0 && n > p.MaxFrameBytes {
		return Decision{Verdict: Close, Code: CodePolicyViolation}
	}
	return pass
}

// AdmitExt runs allowlist and rate-limit stages for a decoded Ext frame.
func (p *Pipeline) AdmitExt(svc, typ string) Decision {
	if !p.Allow.AdmitExt(svc, typ) {
		return Decision{Verdict: Reject, Code: CodePolicyDenied}
	}
	if !p.takeToken() {
		return Decision{Verdict: Drop, Code: CodeRateLimited}
	}
	return pass
}

// AdmitHot runs allowlist, rate-limit, and active-room stages for a decoded
// Hot frame. Rejections honor the tenant's hot error mode.
func (p *Pipeline) AdmitHot(svcID, opcode uint8, hasActiveRoom bool) Decision {
	if !p.Allow.AdmitHot(svcID, opcode) {
		return p.hotReject(CodePolicyDenied)
	}
	if !p.takeToken() {
		return p.hotReject(CodeRateLimited)
	}
	if p.HotRequiresActiveRoom && !hasActiveRoom {
		return p.hotReject(CodeHotNoActiveRoom)
	}
	return pass
}

// MalformedExt is the decision for an Ext frame that failed to decode.
func (p *Pipeline) MalformedExt() Decision {
	return Decision{Verdict: Reject, Code: CodeMalformedFrame}
}

// MalformedHot is the decision for a Hot frame that failed to decode.
func (p *Pipeline) MalformedHot() Decision {
	return p.hotReject(CodeMalformedFrame)
}

func (p *Pipeline) hotReject(code string) Decision {
	return Decision{
		Verdict: Reject,
		Code:    code,
		Silent:  p.HotErrMode == HotErrSilent,
	}
}

// TakeToken debits one rate token for a frame handled outside the allowlist
// path, such as sys traffic.
func (p *Pipeline) TakeToken() bool {
	return p.takeToken()
}

// takeToken debits one token from each bucket the scope names. When both
// buckets apply the tenant bucket is tried first; a connection-bucket miss
// does not refund the tenant token, matching debit-on-attempt semantics.
func (p *Pipeline) takeToken() bool {
	switch p.Scope {
	case ScopeTenant:
		return p.TenantBucket == nil || p.TenantBucket.TryTake(1)
	case ScopeConnection:
		return p.ConnBucket == nil || p.ConnBucket.TryTake(1)
	case ScopeBoth:
		ok := p.TenantBucket == nil || p.TenantBucket.TryTake(1)
		if p.ConnBucket != nil && !p.ConnBucket.TryTake(1) {
			ok = false
		}
		return ok
	}
	return true
}
