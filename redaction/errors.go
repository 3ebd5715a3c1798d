package redaction

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNoDocument is returned before anything is touched when there is
	// no open document or it has no file path.
	ErrNoDocument = errors.New("no document is open")
	// ErrInvalidMask rejects a commit holding a mask outside the document
	// or without area.
	ErrInvalidMask = errors.New("invalid mask")
)

// FileInUseError reports a save refused because another program holds
// the file.
type FileInUseError struct {
	Path string
	Err  error
}

func (e *FileInUseError) Error() string {
	return fmt.Sprintf("%s is in use by another program; close it there and save again: %v", e.Path, e.Err)
}

func (e *FileInUseError) Unwrap() error { return e.Err }

// SaveError is any other failure to write the file.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save %s: %v", e.Path, e.Err) }

func (e *SaveError) Unwrap() error { return e.Err }

// CommitError is an unexpected failure while applying redactions. Page is
// -1 when the failure happened while saving.
type CommitError struct {
	Page         int
	Err          error
	inconsistent bool
}

func (e *CommitError) Error() string {
	msg := fmt.Sprintf("redaction failed on page %d: %v", e.Page+1, e.Err)
	if e.Page < 0 {
		msg = fmt.Sprintf("redaction failed while saving: %v", e.Err)
	}
	if e.inconsistent {
		msg += "; the document may be left partially modified, reopen the file before trying again"
	}
	return msg
}

func (e *CommitError) Unwrap() error { return e.Err }

// Inconsistent reports that edits were already made when the failure
// happened.
func (e *CommitError) Inconsistent() bool { return e.inconsistent }

// classifySave turns a save failure into *FileInUseError or *SaveError.
func classifySave(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) || isLocked(err) {
		return &FileInUseError{Path: path, Err: err}
	}
	return &SaveError{Path: path, Err: err}
}
