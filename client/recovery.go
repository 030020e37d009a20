// Package client implements the trading side's market-data recovery
// protocol (C8, §4.8): steady-state forwarding of the incremental stream,
// detecting gaps, and splicing a snapshot cycle back together with the
// incremental tail that followed it.
package client

import (
	"fmt"
	"sort"

	"lowlatency-exchange/logging"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

// Recovery tracks the synchronization state of one market-data feed (one
// incremental stream and its snapshot stream, covering every ticker). It
// does not own any sockets: subscribeSnapshot/unsubscribeSnapshot are
// injected so the caller's transport layer (the multicast join/leave
// calls) stays decoupled from this package's pure sequencing logic.
type Recovery struct {
	out *ringqueue.Queue[wire.MarketUpdate]

	nextExpIncSeqNum uint64
	inRecovery       bool

	snapshotQueued map[uint64]wire.MarketUpdate
	incQueued      map[uint64]wire.MarketUpdate

	subscribeSnapshot   func()
	unsubscribeSnapshot func()
	log                 *logging.Logger
}

// NewRecovery constructs a Recovery expecting the first incremental
// seqNum to be 1, forwarding synchronized updates into an out queue of
// the given capacity.
func NewRecovery(outCapacity int, subscribeSnapshot, unsubscribeSnapshot func(), log *logging.Logger) *Recovery {
	return &Recovery{
		out:                 ringqueue.New[wire.MarketUpdate](outCapacity),
		nextExpIncSeqNum:    1,
		snapshotQueued:      make(map[uint64]wire.MarketUpdate),
		incQueued:           make(map[uint64]wire.MarketUpdate),
		subscribeSnapshot:   subscribeSnapshot,
		unsubscribeSnapshot: unsubscribeSnapshot,
		log:                 log,
	}
}

// Out returns the queue synchronized updates are forwarded onto, for the
// trading algorithm thread to consume.
func (r *Recovery) Out() *ringqueue.Queue[wire.MarketUpdate] { return r.out }

// InRecovery reports whether this feed is currently buffering instead of
// forwarding live.
func (r *Recovery) InRecovery() bool { return r.inRecovery }

// HandleIncremental processes one datagram received on the incremental
// multicast stream.
func (r *Recovery) HandleIncremental(seqNum uint64, update wire.MarketUpdate) {
	r.recv(false, seqNum, update)
}

// HandleSnapshot processes one datagram received on the snapshot
// multicast stream. Datagrams arriving while not in recovery are
// discarded — the feed isn't subscribed to that group in steady state,
// but a late packet from a just-left group can still land.
func (r *Recovery) HandleSnapshot(seqNum uint64, update wire.MarketUpdate) {
	r.recv(true, seqNum, update)
}

func (r *Recovery) recv(isSnapshot bool, seqNum uint64, update wire.MarketUpdate) {
	if isSnapshot && !r.inRecovery {
		return
	}

	alreadyInRecovery := r.inRecovery
	r.inRecovery = alreadyInRecovery || seqNum != r.nextExpIncSeqNum

	if r.inRecovery {
		if !alreadyInRecovery {
			r.snapshotQueued = make(map[uint64]wire.MarketUpdate)
			r.incQueued = make(map[uint64]wire.MarketUpdate)
			if r.subscribeSnapshot != nil {
				r.subscribeSnapshot()
			}
		}
		r.queueMessage(isSnapshot, seqNum, update)
		return
	}

	if !isSnapshot {
		r.nextExpIncSeqNum++
		slot := r.out.WriteSlot()
		*slot = update
		r.out.CommitWrite()
		metrics.ObserveQueueDepth("client.recovery.out", r.out.Size(), r.out.Capacity())
	}
}

// queueMessage buffers one recovery-mode datagram and re-attempts a
// splice. A duplicate snapshot seqNum (a socket re-delivering a packet)
// invalidates the whole batch rather than silently overwriting it, per
// the original's "packet drops... received for a 2nd time" handling.
func (r *Recovery) queueMessage(isSnapshot bool, seqNum uint64, update wire.MarketUpdate) {
	if isSnapshot {
		if _, exists := r.snapshotQueued[seqNum]; exists {
			r.logf("duplicate snapshot seqNum %d, restarting snapshot batch", seqNum)
			r.snapshotQueued = make(map[uint64]wire.MarketUpdate)
		}
		r.snapshotQueued[seqNum] = update
	} else {
		r.incQueued[seqNum] = update
	}
	r.checkSnapshotSync()
}

// checkSnapshotSync attempts to splice a complete snapshot cycle together
// with the contiguous incremental tail that followed it. A gap anywhere
// in the snapshot run clears the batch and waits for a fresh cycle; a
// missing SNAPSHOT_END waits without clearing, since the cycle may still
// be in flight.
func (r *Recovery) checkSnapshotSync() {
	if len(r.snapshotQueued) == 0 {
		return
	}

	keys := sortedKeys(r.snapshotQueued)
	if r.snapshotQueued[keys[0]].Type != wire.UpdateSnapshotStart {
		r.logf("have not seen a SNAPSHOT_START yet")
		r.snapshotQueued = make(map[uint64]wire.MarketUpdate)
		return
	}

	var finalEvents []wire.MarketUpdate
	haveCompleteSnapshot := true
	nextSnapshotSeq := uint64(0)
	for _, k := range keys {
		if k != nextSnapshotSeq {
			r.logf("gap in snapshot stream: expected %d found %d", nextSnapshotSeq, k)
			haveCompleteSnapshot = false
			break
		}
		u := r.snapshotQueued[k]
		if u.Type != wire.UpdateSnapshotStart && u.Type != wire.UpdateSnapshotEnd {
			finalEvents = append(finalEvents, u)
		}
		nextSnapshotSeq++
	}

	if !haveCompleteSnapshot {
		r.snapshotQueued = make(map[uint64]wire.MarketUpdate)
		return
	}

	lastMsg := r.snapshotQueued[keys[len(keys)-1]]
	if lastMsg.Type != wire.UpdateSnapshotEnd {
		r.logf("have not seen a SNAPSHOT_END yet")
		return
	}

	r.nextExpIncSeqNum = lastMsg.MarketOrderId + 1

	incKeys := sortedKeys(r.incQueued)
	haveCompleteInc := true
	numInc := 0
	for _, k := range incKeys {
		if k < r.nextExpIncSeqNum {
			continue
		}
		if k != r.nextExpIncSeqNum {
			r.logf("gap in incremental stream: expected %d found %d", r.nextExpIncSeqNum, k)
			haveCompleteInc = false
			break
		}
		u := r.incQueued[k]
		if u.Type != wire.UpdateSnapshotStart && u.Type != wire.UpdateSnapshotEnd {
			finalEvents = append(finalEvents, u)
		}
		r.nextExpIncSeqNum++
		numInc++
	}

	if !haveCompleteInc {
		r.snapshotQueued = make(map[uint64]wire.MarketUpdate)
		return
	}

	for i := range finalEvents {
		slot := r.out.WriteSlot()
		*slot = finalEvents[i]
		r.out.CommitWrite()
	}
	metrics.ObserveQueueDepth("client.recovery.out", r.out.Size(), r.out.Capacity())

	r.logf("recovered %d snapshot and %d incremental orders", len(r.snapshotQueued)-2, numInc)

	r.snapshotQueued = make(map[uint64]wire.MarketUpdate)
	r.incQueued = make(map[uint64]wire.MarketUpdate)
	r.inRecovery = false

	if r.unsubscribeSnapshot != nil {
		r.unsubscribeSnapshot()
	}
}

func (r *Recovery) logf(msg string, args ...any) {
	if r.log == nil {
		return
	}
	r.log.Push(logging.Record{Component: "client.recovery", Message: fmt.Sprintf(msg, args...)})
}

func sortedKeys(m map[uint64]wire.MarketUpdate) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
