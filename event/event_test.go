package event_test

import (
	"testing"

	"github.com/verdantiq/esgbridge/event"
)

func TestKnownType(t *testing.T) {
	for _, name := range event.Types() {
		if !event.KnownType(name) {
			t.Errorf("KnownType(%q) = false", name)
		}
	}

	for _, name := range []string{"", "data", "data.deleted", "payroll.processed", "*"} {
		if event.KnownType(name) {
			t.Errorf("KnownType(%q) = true", name)
		}
	}
}

func TestTypesComplete(t *testing.T) {
	if got := len(event.Types()); got != 7 {
		t.Errorf("Types() has %d entries, want 7", got)
	}
}
