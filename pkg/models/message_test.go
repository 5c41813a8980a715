package models

import (
	"sort"
	"testing"
)

func TestAdvanceStatus(t *testing.T) {
	tests := []struct {
		name    string
		cur     MessageStatus
		next    MessageStatus
		want    MessageStatus
		changed bool
	}{
		{"sending to sent", StatusSending, StatusSent, StatusSent, true},
		{"sending to failed", StatusSending, StatusFailed, StatusFailed, true},
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered, true},
		{"read not downgraded by delivered", StatusRead, StatusDelivered, StatusRead, false},
		{"delivered not downgraded by sent", StatusDelivered, StatusSent, StatusDelivered, false},
		{"sent skips to read", StatusSent, StatusRead, StatusRead, true},
		{"sent never fails", StatusSent, StatusFailed, StatusSent, false},
		{"failed not resent automatically", StatusFailed, StatusSending, StatusFailed, false},
		{"failed confirmed by server", StatusFailed, StatusSent, StatusSent, true},
		{"same status", StatusRead, StatusRead, StatusRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := AdvanceStatus(tt.cur, tt.next)
			if got != tt.want || changed != tt.changed {
				t.Fatalf("AdvanceStatus(%s, %s) = %s, %v; want %s, %v", tt.cur, tt.next, got, changed, tt.want, tt.changed)
			}
		})
	}
}

func TestTempIDsSortByCreation(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = NewTempID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("expected temp ids in creation order")
	}
	if !IsTempID(ids[0]) || IsTempID("m42") {
		t.Fatalf("IsTempID misclassified ids")
	}
}

func TestIdentityVariants(t *testing.T) {
	var id Identity = Pending{TempID: "local-1"}
	if id.ID() != "local-1" {
		t.Fatalf("pending id = %q", id.ID())
	}
	id = Confirmed{ServerID: "m42", TempID: "local-1"}
	if id.ID() != "m42" {
		t.Fatalf("confirmed id = %q", id.ID())
	}
}
