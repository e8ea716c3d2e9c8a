package dataplane

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Status returns the status code reported by a failed Attach: the
// errno number if err wraps one, otherwise 1. A nil error is 0.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}
