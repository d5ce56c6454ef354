package subscription_test

import (
	"testing"

	"github.com/verdantiq/esgbridge/subscription"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"approval.granted", "approval.granted", true},
		{"approval.granted", "approval.rejected", false},
		{"approval.*", "approval.granted", true},
		{"approval.*", "approval.rejected", true},
		{"approval.*", "export.started", false},
		{"*", "anything.at.all", true},
		{"*", "data.changed", true},
		{"export.*", "export.completed", true},
		{"export.*", "export", false},
		{"data.changed", "data.changed.deep", false},
		{"*.changed", "data.changed", true},
		{"*.changed", "export.started", false},
		{"", "data.changed", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.eventType, func(t *testing.T) {
			if got := subscription.Match(tt.pattern, tt.eventType); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestSubscriptionMatches(t *testing.T) {
	sub := &subscription.Subscription{
		EventTypes: []string{"approval.*", "export.completed"},
	}

	if !sub.Matches("approval.granted") {
		t.Error("expected approval.granted to match approval.*")
	}
	if !sub.Matches("export.completed") {
		t.Error("expected exact match for export.completed")
	}
	if sub.Matches("export.started") {
		t.Error("export.started should not match")
	}
	if sub.Matches("data.changed") {
		t.Error("data.changed should not match")
	}
}
