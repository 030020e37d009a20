package client

import (
	"testing"

	"lowlatency-exchange/wire"
)

func drain(r *Recovery) []wire.MarketUpdate {
	var got []wire.MarketUpdate
	for r.Out().Size() > 0 {
		slot := r.Out().ReadSlot()
		got = append(got, *slot)
		r.Out().CommitRead()
	}
	return got
}

func TestSteadyStateForwardsInOrder(t *testing.T) {
	r := NewRecovery(8, nil, nil, nil)

	r.HandleIncremental(1, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1})
	r.HandleIncremental(2, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 2})

	got := drain(r)
	if len(got) != 2 || got[0].MarketOrderId != 1 || got[1].MarketOrderId != 2 {
		t.Fatalf("expected both updates forwarded in order, got %+v", got)
	}
	if r.InRecovery() {
		t.Fatalf("expected to remain out of recovery on contiguous seqNums")
	}
}

func TestGapEntersRecoveryAndSubscribes(t *testing.T) {
	subscribed := false
	r := NewRecovery(8, func() { subscribed = true }, nil, nil)

	r.HandleIncremental(1, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1})
	drain(r)

	r.HandleIncremental(3, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 3}) // gap: skipped seqNum 2

	if !r.InRecovery() {
		t.Fatalf("expected a seqNum gap to enter recovery")
	}
	if !subscribed {
		t.Fatalf("expected entering recovery to subscribe to the snapshot stream")
	}
	if len(drain(r)) != 0 {
		t.Fatalf("expected nothing forwarded while buffering mid-gap")
	}
}

func TestSuccessfulSpliceForwardsSnapshotThenIncrementalTailAndExitsRecovery(t *testing.T) {
	unsubscribed := false
	r := NewRecovery(16, nil, func() { unsubscribed = true }, nil)

	// Force entry into recovery.
	r.HandleIncremental(5, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 99})
	drain(r)
	if !r.InRecovery() {
		t.Fatalf("expected recovery to have started")
	}

	// Snapshot cycle cut at lastIncSeqNum=10: START, CLEAR, ADD, END.
	r.HandleSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, MarketOrderId: 10})
	r.HandleSnapshot(1, wire.MarketUpdate{Type: wire.UpdateClear, TickerId: 0})
	r.HandleSnapshot(2, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 7, TickerId: 0, Price: 100, Qty: 5})
	r.HandleSnapshot(3, wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, MarketOrderId: 10})

	// Contiguous incremental tail starting at 11.
	r.HandleIncremental(11, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 8, TickerId: 0, Price: 101, Qty: 2})

	if r.InRecovery() {
		t.Fatalf("expected a successful splice to exit recovery")
	}
	if !unsubscribed {
		t.Fatalf("expected exiting recovery to unsubscribe from the snapshot stream")
	}

	got := drain(r)
	if len(got) != 3 {
		t.Fatalf("expected CLEAR + ADD(7) from snapshot and ADD(8) from the tail, got %+v", got)
	}
	if got[0].Type != wire.UpdateClear || got[1].MarketOrderId != 7 || got[2].MarketOrderId != 8 {
		t.Fatalf("unexpected splice order: %+v", got)
	}

	// Subsequent incrementals forward live again.
	r.HandleIncremental(12, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 9})
	got = drain(r)
	if len(got) != 1 || got[0].MarketOrderId != 9 {
		t.Fatalf("expected live forwarding to resume, got %+v", got)
	}
}

func TestSnapshotGapClearsAndWaitsForFreshCycle(t *testing.T) {
	r := NewRecovery(16, nil, nil, nil)
	r.HandleIncremental(5, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1}) // force recovery
	drain(r)

	r.HandleSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, MarketOrderId: 10})
	r.HandleSnapshot(2, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1}) // gap at seq 1

	if !r.InRecovery() {
		t.Fatalf("expected to remain in recovery after a snapshot-stream gap")
	}
	if len(r.snapshotQueued) != 0 {
		t.Fatalf("expected the incomplete snapshot batch to be cleared")
	}
}

func TestMissingSnapshotEndWaitsWithoutClearing(t *testing.T) {
	r := NewRecovery(16, nil, nil, nil)
	r.HandleIncremental(5, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1})
	drain(r)

	r.HandleSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, MarketOrderId: 10})
	r.HandleSnapshot(1, wire.MarketUpdate{Type: wire.UpdateClear})

	if !r.InRecovery() {
		t.Fatalf("expected to remain in recovery without a SNAPSHOT_END")
	}
	if len(r.snapshotQueued) != 2 {
		t.Fatalf("expected the partial batch to be retained while waiting for SNAPSHOT_END, got %d entries", len(r.snapshotQueued))
	}
}
