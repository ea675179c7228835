package core

import (
	"errors"
	"io"
	"net"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrOverflow reports a decoded score outside the declared type's range.
	ErrOverflow = errors.New("score overflows declared type")
	// ErrUnsupportedType reports a declared score type outside the closed set.
	ErrUnsupportedType = errors.New("unsupported score type")
	// ErrProtocol reports a script reply or score with an unexpected shape.
	// Non-numeric update pipeline replies are not reported; they decode to
	// the zero value.
	ErrProtocol = errors.New("unexpected reply shape")
	// ErrInvalidCycle reports a periodic cycle that is neither a known tag nor
	// a user function.
	ErrInvalidCycle = errors.New("invalid cycle")
)

// IsConnectionError reports whether err is a transport-layer failure that is
// worth retrying, as opposed to a logical error from the store or a decode
// failure. Absent members never reach here; they are not errors.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
