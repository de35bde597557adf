package proto

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrObsolete is returned when a peer rejects a ring or an election as stale.
var ErrObsolete = errors.New("obsolete")

// IsTransportLost reports whether err means the peer could not be reached.
func IsTransportLost(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.Unavailable
	}
	return false
}

// IsTimeout reports whether err means no reply arrived in time.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.DeadlineExceeded
	}
	return false
}

// IsRetryable reports whether a request may be retried on another replica.
func IsRetryable(err error) bool {
	if IsTransportLost(err) || IsTimeout(err) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.ResourceExhausted, codes.FailedPrecondition:
			return true
		}
	}
	return false
}
