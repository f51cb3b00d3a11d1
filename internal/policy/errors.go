package policy

import "errors"

// ErrBadPattern is returned when an allowlist pattern does not compile.
var ErrBadPattern = errors.New("policy: malformed allowlist pattern")
