// Package recovery decides what the parser does when it meets malformed
// input: fail, skip the broken part, or repair it.
package recovery

import (
	"fmt"

	"github.com/wudi/pdfmask/observability"
)

type Strategy interface {
	OnError(err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s at offset %d (object %d %d)", l.Component, l.ByteOffset, l.ObjectNum, l.ObjectGen)
	}
	return fmt.Sprintf("%s at offset %d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "fail"
	}
}

// Strict fails on every anomaly.
type Strict struct{}

func (Strict) OnError(error, Location) Action { return ActionFail }

// Lenient repairs whatever can be repaired and logs each occurrence.
type Lenient struct {
	Logger observability.Logger
}

func (l Lenient) OnError(err error, loc Location) Action {
	observability.OrNop(l.Logger).Warn("repairing malformed pdf",
		observability.String("location", loc.String()),
		observability.Error(err))
	return ActionFix
}
