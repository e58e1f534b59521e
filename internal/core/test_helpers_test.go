package core

import (
	"testing"
	"time"
)

func mustSnapshot(t *testing.T, ch <-chan Snapshot, match func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("subscriber channel closed")
			}
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("expected snapshot not received")
			return Snapshot{}
		}
	}
}
