// Package sequencer implements the FIFO sequencer (§4.5, C5): it buffers
// client requests as they arrive across every connection, then imposes a
// single ascending-receive-time order across all of them before handing
// the batch to the matching engine.
package sequencer

import (
	"sort"

	"lowlatency-exchange/common"
	"lowlatency-exchange/logging"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

type pending struct {
	recvTime common.Nanos
	envelope wire.ClientRequestEnvelope
}

// Sequencer batches client requests between publish cycles and orders
// them by receive time before pushing them onward. It is owned by a
// single goroutine (the order-server read loop) and is not safe for
// concurrent Add calls from multiple goroutines.
type Sequencer struct {
	pending []pending
	size    int
	log     *logging.Logger

	out *ringqueue.Queue[wire.ClientRequestEnvelope]
}

// New constructs a Sequencer with the given pending-request capacity,
// publishing into out. log may be nil to disable the batch-size trace.
func New(capacity int, out *ringqueue.Queue[wire.ClientRequestEnvelope], log *logging.Logger) *Sequencer {
	return &Sequencer{
		pending: make([]pending, capacity),
		out:     out,
		log:     log,
	}
}

// Add queues a client request envelope (already per-client seqNum
// gap-checked by the order-server's socket layer) tagged with its
// software receive timestamp. It is not processed until the next
// SequenceAndPublish call. Overflowing the fixed-capacity buffer is a
// fatal configuration error, not a recoverable condition — §5 caps
// pending-request capacity precisely so this can never legitimately
// happen under correct sizing.
func (s *Sequencer) Add(recvTime common.Nanos, env wire.ClientRequestEnvelope) {
	if s.size >= len(s.pending) {
		common.Fatalf("sequencer: too many pending requests")
	}
	s.pending[s.size] = pending{recvTime: recvTime, envelope: env}
	s.size++
}

// SequenceAndPublish sorts the pending batch by ascending receive time —
// stably, so requests that arrived in the same nanosecond keep the order
// they were Add'ed in rather than the undefined order an unstable sort
// would pick — then writes every request to the outbound queue in that
// order and resets the batch to empty.
func (s *Sequencer) SequenceAndPublish() {
	if s.size == 0 {
		return
	}

	batch := s.pending[:s.size]
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].recvTime < batch[j].recvTime
	})

	metrics.SequencerBatchSize.Observe(float64(s.size))
	metrics.ObserveQueueDepth("sequencer.pending", s.size, len(s.pending))

	if s.log != nil {
		s.log.Push(logging.Record{Component: "sequencer", Message: "publishing batch", SeqNum: int64(s.size)})
	}

	for i := range batch {
		slot := s.out.WriteSlot()
		*slot = batch[i].envelope
		s.out.CommitWrite()
	}

	metrics.ObserveQueueDepth("sequencer.out", s.out.Size(), s.out.Capacity())
	s.size = 0
}

// Pending reports how many requests are currently buffered, awaiting the
// next SequenceAndPublish call.
func (s *Sequencer) Pending() int { return s.size }
