package kernel

import (
	"errors"
	"fmt"
)

// ErrClosed indicates the kernel channel is closed. Receive-side closure is
// reported as a ConnectionError wrapping ErrClosed so callers can tell a
// dead channel apart from other transport failures.
var ErrClosed = errors.New("kernel channel closed")

// ConnectionError is a transport-level failure: a failed WebSocket
// handshake, a write on a closed channel, or the channel closing while
// waiting for a message.
type ConnectionError struct {
	// Op is the operation that failed: "dial", "send" or "receive".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("kernel connection %s: %s", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionError is a failed Execute call: the channel died mid-collection,
// or the kernel sent content that could not be decoded. Any partially
// accumulated outputs are discarded.
type ExecutionError struct {
	// MsgID is the msg_id of the originating execute_request.
	MsgID string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing request %s: %s", e.MsgID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
