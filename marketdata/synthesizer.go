package marketdata

import (
	"time"

	"lowlatency-exchange/common"
	"lowlatency-exchange/logging"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/pool"
	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

// liveOrder is the image-table record: everything a snapshot ADD line
// needs to be regenerated without touching the incremental stream again.
type liveOrder struct {
	marketOrderId uint64
	side          int8
	price         int64
	qty           uint32
	priority      uint64
}

// SnapshotSynthesizer maintains a per-ticker image of every live order by
// replaying the incremental stream forwarded by Publisher, and on a fixed
// cadence emits that image as a full snapshot cycle (§4.7).
type SnapshotSynthesizer struct {
	in         *ringqueue.Queue[wire.IncrementalEnvelope]
	snapSocket Sender
	log        *logging.Logger

	orders *pool.Pool[liveOrder]
	// images[ticker][marketOrderId] is a handle into orders, grown lazily
	// to accommodate the dense, increasing marketOrderId space per book.
	images [common.MaxTickers][]pool.Handle

	lastIncSeqNum    uint64
	lastSnapshotTime common.Nanos
	period           common.Nanos
	now              func() common.Nanos

	stop chan struct{}

	buf [wire.SnapshotEnvelopeSize]byte
}

// NewSnapshotSynthesizer constructs a synthesizer reading from in,
// publishing snapshot cycles onto snapSocket every period. imageCapacity
// bounds the single order pool shared by every ticker's image (size to
// MAX_ORDER_IDS x MAX_TICKERS per §4.7).
func NewSnapshotSynthesizer(in *ringqueue.Queue[wire.IncrementalEnvelope], imageCapacity int, period common.Nanos, snapSocket Sender, log *logging.Logger) *SnapshotSynthesizer {
	s := &SnapshotSynthesizer{
		in:         in,
		snapSocket: snapSocket,
		log:        log,
		orders:     pool.New[liveOrder](imageCapacity),
		period:     period,
		now:        func() common.Nanos { return common.Nanos(time.Now().UnixNano()) },
		stop:       make(chan struct{}),
	}
	s.lastSnapshotTime = s.now()
	return s
}

// Run drains the ingress queue to quiescence, applies each update to the
// image, then checks the publication cadence — a timestamp read, not a
// blocking timer, per §5's "suspension points" list.
func (s *SnapshotSynthesizer) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		slot := s.in.ReadSlot()
		if slot != nil {
			s.addToSnapshot(*slot)
			s.in.CommitRead()
			metrics.ObserveQueueDepth("marketdata.synthesizer.in", s.in.Size(), s.in.Capacity())
			continue
		}

		if s.now()-s.lastSnapshotTime > s.period {
			s.lastSnapshotTime = s.now()
			s.publishSnapshot()
		}
	}
}

// Stop asks the Run loop to return after its current spin check.
func (s *SnapshotSynthesizer) Stop() { close(s.stop) }

func (s *SnapshotSynthesizer) slotFor(ticker uint32, marketOrderId uint64) pool.Handle {
	row := s.images[ticker]
	if int(marketOrderId) >= len(row) {
		return pool.Invalid
	}
	return row[marketOrderId]
}

func (s *SnapshotSynthesizer) setSlot(ticker uint32, marketOrderId uint64, h pool.Handle) {
	row := &s.images[ticker]
	if int(marketOrderId) >= len(*row) {
		grown := make([]pool.Handle, marketOrderId+1)
		copy(grown, *row)
		for i := len(*row); i < len(grown); i++ {
			grown[i] = pool.Invalid
		}
		*row = grown
	}
	(*row)[marketOrderId] = h
}

// addToSnapshot applies one incremental update to the image table, per
// the original's AddToSnapshot switch: only ADD/MODIFY/CANCEL mutate
// state; TRADE and the snapshot markers themselves are ignored. The
// sequence assertion guards a same-process SPSC invariant, so a gap here
// is fatal rather than recoverable.
func (s *SnapshotSynthesizer) addToSnapshot(env wire.IncrementalEnvelope) {
	u := env.Update
	switch u.Type {
	case wire.UpdateAdd:
		if s.slotFor(u.TickerId, u.MarketOrderId) != pool.Invalid {
			common.Fatalf("snapshot synthesizer: ADD for already-live order %d on ticker %d", u.MarketOrderId, u.TickerId)
		}
		h, order := s.orders.Allocate()
		order.marketOrderId = u.MarketOrderId
		order.side = u.Side
		order.price = u.Price
		order.qty = u.Qty
		order.priority = u.Priority
		s.setSlot(u.TickerId, u.MarketOrderId, h)

	case wire.UpdateModify:
		h := s.slotFor(u.TickerId, u.MarketOrderId)
		if h == pool.Invalid {
			common.Fatalf("snapshot synthesizer: MODIFY for unknown order %d on ticker %d", u.MarketOrderId, u.TickerId)
		}
		order := s.orders.Get(h)
		order.qty = u.Qty
		order.price = u.Price

	case wire.UpdateCancel:
		h := s.slotFor(u.TickerId, u.MarketOrderId)
		if h == pool.Invalid {
			common.Fatalf("snapshot synthesizer: CANCEL for unknown order %d on ticker %d", u.MarketOrderId, u.TickerId)
		}
		s.orders.Release(h)
		s.setSlot(u.TickerId, u.MarketOrderId, pool.Invalid)

	case wire.UpdateTrade, wire.UpdateClear, wire.UpdateSnapshotStart, wire.UpdateSnapshotEnd:
		// Not part of the live-order image.
	}

	if env.SeqNum != s.lastIncSeqNum+1 {
		common.Fatalf("snapshot synthesizer: expected incremental seqNum %d, got %d", s.lastIncSeqNum+1, env.SeqNum)
	}
	s.lastIncSeqNum = env.SeqNum
}

// publishSnapshot emits one full snapshot cycle: SNAPSHOT_START, then for
// every ticker a CLEAR followed by every live order as an ADD, then
// SNAPSHOT_END. snapSeqNum restarts at 0 each cycle per §6.
func (s *SnapshotSynthesizer) publishSnapshot() {
	var snapSeqNum uint64

	s.send(&snapSeqNum, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, MarketOrderId: s.lastIncSeqNum})

	for ticker := 0; ticker < common.MaxTickers; ticker++ {
		s.send(&snapSeqNum, wire.MarketUpdate{Type: wire.UpdateClear, TickerId: uint32(ticker)})

		for _, h := range s.images[ticker] {
			if h == pool.Invalid {
				continue
			}
			o := s.orders.Get(h)
			s.send(&snapSeqNum, wire.MarketUpdate{
				Type:          wire.UpdateAdd,
				MarketOrderId: o.marketOrderId,
				TickerId:      uint32(ticker),
				Side:          o.side,
				Price:         o.price,
				Qty:           o.qty,
				Priority:      o.priority,
			})
		}
	}

	s.send(&snapSeqNum, wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, MarketOrderId: s.lastIncSeqNum})

	if s.log != nil {
		s.log.Push(logging.Record{Component: "marketdata.snapshot", Message: "published snapshot cycle", SeqNum: int64(snapSeqNum)})
	}
}

func (s *SnapshotSynthesizer) send(snapSeqNum *uint64, update wire.MarketUpdate) {
	env := wire.SnapshotEnvelope{SeqNum: *snapSeqNum, Update: update}
	wire.EncodeSnapshotEnvelope(s.buf[:], env)
	if err := s.snapSocket.Send(s.buf[:]); err != nil && s.log != nil {
		s.log.Push(logging.Record{Level: logging.Error, Component: "marketdata.snapshot", Message: err.Error()})
	}
	*snapSeqNum++
}
