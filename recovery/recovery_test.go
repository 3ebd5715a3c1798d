package recovery

import (
	"errors"
	"testing"
)

func TestStrategies(t *testing.T) {
	loc := Location{ByteOffset: 12, Component: "xref"}
	if got := (Strict{}).OnError(errors.New("bad"), loc); got != ActionFail {
		t.Fatalf("strict = %v", got)
	}
	if got := (Lenient{}).OnError(errors.New("bad"), loc); got != ActionFix {
		t.Fatalf("lenient = %v", got)
	}
	if s := (Location{ByteOffset: 5, ObjectNum: 3, Component: "stream"}).String(); s != "stream at offset 5 (object 3 0)" {
		t.Fatalf("location string = %q", s)
	}
}
