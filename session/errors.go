package session

import "errors"

// ErrUnknownSubscriber is returned when an operation references a
// subscriber id with no live connection.
var ErrUnknownSubscriber = errors.New("unknown subscriber")
