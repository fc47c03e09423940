package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	apperr "github.com/longscribe/engine/internal/errors"
)

// WireError classifies transport failures so callers can distinguish an
// unreachable backend from a failed call.
func WireError(err error, name string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrapf(err, apperr.CodeTimeout, "%s timed out", name)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrapf(err, apperr.CodeTimeout, "%s timed out", name)
	}
	return apperr.Wrap(err, apperr.CodeBackendUnavailable, fmt.Sprintf("%s unreachable", name))
}
