package ticket

import "errors"

// ErrUnknownTicket means the ticket does not exist or was already consumed.
var ErrUnknownTicket = errors.New("ticket: unknown or already consumed")
