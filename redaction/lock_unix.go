//go:build unix

package redaction

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isLocked reports errors caused by another process holding the file.
func isLocked(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN)
}
