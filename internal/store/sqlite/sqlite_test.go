package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirecall/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewWithSetup(":memory:", ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	connected := started.Add(3 * time.Second)
	rec := &store.CallRecord{
		ID:             "call-1",
		LocalIdentity:  "app-1",
		RemoteIdentity: "app-2",
		Direction:      "outgoing",
		MediaKind:      "video",
		PeerName:       "Bob",
		PeerAvatar:     "https://example.com/bob.png",
		EndReason:      "local_hangup",
		StartedAt:      started,
		ConnectedAt:    &connected,
		EndedAt:        started.Add(time.Minute),
	}
	if err := s.RecordCall(ctx, rec); err != nil {
		t.Fatalf("RecordCall failed: %v", err)
	}

	got, err := s.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if got.RemoteIdentity != "app-2" || got.MediaKind != "video" || got.PeerName != "Bob" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.Connected() || !got.ConnectedAt.Equal(connected) {
		t.Fatalf("expected connected_at %v, got %v", connected, got.ConnectedAt)
	}
	if !got.EndedAt.Equal(rec.EndedAt) {
		t.Fatalf("expected ended_at %v, got %v", rec.EndedAt, got.EndedAt)
	}
}

func TestGetCallNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCall(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCallsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seed := []struct {
		id    string
		local string
		at    time.Duration
	}{
		{"a", "app-1", 0},
		{"b", "app-1", time.Minute},
		{"c", "app-9", 2 * time.Minute},
		{"d", "app-1", 3 * time.Minute},
	}
	for _, r := range seed {
		err := s.RecordCall(ctx, &store.CallRecord{
			ID:             r.id,
			LocalIdentity:  r.local,
			RemoteIdentity: "peer",
			Direction:      "incoming",
			MediaKind:      "audio",
			EndReason:      "missed",
			StartedAt:      base.Add(r.at),
			EndedAt:        base.Add(r.at),
		})
		if err != nil {
			t.Fatalf("RecordCall %s failed: %v", r.id, err)
		}
	}

	tests := []struct {
		name     string
		local    string
		limit    int
		expected []string
	}{
		{name: "own identity", local: "app-1", limit: 10, expected: []string{"d", "b", "a"}},
		{name: "limited", local: "app-1", limit: 2, expected: []string{"d", "b"}},
		{name: "every identity", local: "", limit: 0, expected: []string{"d", "c", "b", "a"}},
		{name: "unknown identity", local: "nobody", limit: 5, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListCalls(ctx, tt.local, tt.limit)
			if err != nil {
				t.Fatalf("ListCalls failed: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d records, got %d", len(tt.expected), len(got))
			}
			for i, rec := range got {
				if rec.ID != tt.expected[i] {
					t.Errorf("at %d: expected %s, got %s", i, tt.expected[i], rec.ID)
				}
				if rec.Connected() {
					t.Errorf("record %s should not be connected", rec.ID)
				}
			}
		})
	}
}

func TestRecordCallReplacesSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &store.CallRecord{
		ID: "x", LocalIdentity: "app-1", RemoteIdentity: "app-2",
		Direction: "incoming", MediaKind: "audio", EndReason: "teardown",
		StartedAt: now, EndedAt: now,
	}
	if err := s.RecordCall(ctx, rec); err != nil {
		t.Fatalf("RecordCall failed: %v", err)
	}
	rec.EndReason = "remote_closed"
	if err := s.RecordCall(ctx, rec); err != nil {
		t.Fatalf("RecordCall failed: %v", err)
	}

	all, err := s.ListCalls(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListCalls failed: %v", err)
	}
	if len(all) != 1 || all[0].EndReason != "remote_closed" {
		t.Fatalf("expected one replaced record, got %+v", all)
	}
}
