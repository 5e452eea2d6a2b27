package storageapi

import (
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrSessionExpired marks a read whose session's fixed validity window has
// elapsed. It is never retryable.
var ErrSessionExpired = errors.New("read session expired")

var retryableCodes = map[codes.Code]struct{}{
	codes.Unavailable:       {},
	codes.Aborted:           {},
	codes.Internal:          {},
	codes.ResourceExhausted: {},
	codes.DeadlineExceeded:  {},
}

// IsRetryable reports whether the error is a transient fault for which
// re-issuing the stream from the last acknowledged offset is expected to
// succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsSessionExpired(err) {
		return false
	}
	if st, ok := status.FromError(errors.Cause(err)); ok {
		_, retryable := retryableCodes[st.Code()]
		return retryable
	}
	return false
}

// IsSessionExpired reports whether the error indicates that the read
// session's validity window elapsed on the service side.
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	if st, ok := status.FromError(errors.Cause(err)); ok {
		return st.Code() == codes.FailedPrecondition &&
			strings.Contains(strings.ToLower(st.Message()), "session expired")
	}
	return false
}
