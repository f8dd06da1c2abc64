package models

import (
	"testing"
	"time"
)

func TestStatusOf(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		poll Poll
		want string
	}{
		{"active before expiry", Poll{Status: StatusActive, ExpiresAt: now.Add(time.Minute)}, StatusActive},
		{"closed explicitly", Poll{Status: StatusClosed, ExpiresAt: now.Add(time.Hour)}, StatusClosed},
		{"expires exactly now", Poll{Status: StatusActive, ExpiresAt: now}, StatusClosed},
		{"expired", Poll{Status: StatusActive, ExpiresAt: now.Add(-time.Second)}, StatusClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.poll, now); got != tt.want {
				t.Errorf("StatusOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name      string
		id        Identity
		valid     bool
		anonymous bool
		key       string
	}{
		{"user", Identity{UserID: "u1"}, true, false, "u1"},
		{"anonymous", Identity{AnonymousID: "anon_1_x"}, true, true, "anon_1_x"},
		{"both", Identity{UserID: "u1", AnonymousID: "anon_1_x"}, false, false, "u1"},
		{"neither", Identity{}, false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.id.IsAnonymous(); got != tt.anonymous {
				t.Errorf("IsAnonymous() = %v, want %v", got, tt.anonymous)
			}
			if got := tt.id.Key(); got != tt.key {
				t.Errorf("Key() = %q, want %q", got, tt.key)
			}
		})
	}
}

func TestPublishRequest(t *testing.T) {
	d := OfflineDraft{ID: "draft-1", Title: "Pets", OptionA: "Cats", OptionB: "Dogs", IsPublic: true}

	req := d.PublishRequest()
	if req.ClientDraftID != "draft-1" {
		t.Errorf("ClientDraftID = %q, want draft-1", req.ClientDraftID)
	}
	if req.DurationHours != DefaultDurationHours {
		t.Errorf("DurationHours = %d, want default %d", req.DurationHours, DefaultDurationHours)
	}
	if req.Title != "Pets" || req.OptionA != "Cats" || req.OptionB != "Dogs" || !req.IsPublic {
		t.Errorf("poll fields not carried over: %+v", req.CreatePollRequest)
	}

	d.DurationHours = 48
	if got := d.PublishRequest().DurationHours; got != 48 {
		t.Errorf("DurationHours = %d, want 48", got)
	}
}

func TestNeedsCleanup(t *testing.T) {
	u := StorageUsage{Used: 80, Quota: 100, Percentage: 80}
	if !u.NeedsCleanup(80) {
		t.Error("expected cleanup at threshold")
	}
	if u.NeedsCleanup(81) {
		t.Error("expected no cleanup below threshold")
	}
}

func TestChoiceValid(t *testing.T) {
	for _, c := range []Choice{ChoiceOptionA, ChoiceOptionB} {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	for _, c := range []Choice{"", "option_c", "OPTION_A"} {
		if c.Valid() {
			t.Errorf("%q should be invalid", c)
		}
	}
}
