//go:build !unix && !windows

package redaction

func isLocked(error) bool { return false }
