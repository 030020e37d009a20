package marketdata

import (
	"testing"
	"time"

	"lowlatency-exchange/common"
	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

// fakeSender records every buffer handed to Send and decodes it back,
// the same "provide a recording double" technique orderbook's
// recordingSink uses.
type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return nil
}

func TestPublisherAssignsStrictlyIncreasingSeqNumsAndForwards(t *testing.T) {
	in := ringqueue.New[wire.MarketUpdate](8)
	sock := &fakeSender{}
	p := NewPublisher(in, 8, sock, nil)

	go p.Run()
	defer p.Stop()

	*in.WriteSlot() = wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1, TickerId: 0, Price: 100, Qty: 10}
	in.CommitWrite()
	*in.WriteSlot() = wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 2, TickerId: 0, Price: 101, Qty: 5}
	in.CommitWrite()

	deadline := time.Now().Add(time.Second)
	for p.ToSynthesizer().Size() < 2 && time.Now().Before(deadline) {
	}
	if p.ToSynthesizer().Size() != 2 {
		t.Fatalf("expected 2 forwarded envelopes, got %d", p.ToSynthesizer().Size())
	}

	first := p.ToSynthesizer().ReadSlot()
	if first.SeqNum != 1 {
		t.Fatalf("expected first incSeqNum 1, got %d", first.SeqNum)
	}
	p.ToSynthesizer().CommitRead()
	second := p.ToSynthesizer().ReadSlot()
	if second.SeqNum != 2 {
		t.Fatalf("expected second incSeqNum 2, got %d", second.SeqNum)
	}

	if len(sock.sent) != 2 {
		t.Fatalf("expected 2 datagrams sent, got %d", len(sock.sent))
	}
	decoded := wire.DecodeIncrementalEnvelope(sock.sent[0])
	if decoded.SeqNum != 1 || decoded.Update.Price != 100 {
		t.Fatalf("unexpected decoded envelope: %+v", decoded)
	}
}

func newTestSynthesizer(sock Sender) (*SnapshotSynthesizer, *ringqueue.Queue[wire.IncrementalEnvelope]) {
	in := ringqueue.New[wire.IncrementalEnvelope](64)
	s := NewSnapshotSynthesizer(in, 64, common.Nanos(time.Hour.Nanoseconds()), sock, nil)
	return s, in
}

func pushInc(in *ringqueue.Queue[wire.IncrementalEnvelope], seqNum uint64, u wire.MarketUpdate) {
	*in.WriteSlot() = wire.IncrementalEnvelope{SeqNum: seqNum, Update: u}
	in.CommitWrite()
}

func TestSynthesizerAppliesAddModifyCancel(t *testing.T) {
	sock := &fakeSender{}
	s, in := newTestSynthesizer(sock)

	pushInc(in, 1, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 5, TickerId: 0, Side: 1, Price: 100, Qty: 10, Priority: 1})
	pushInc(in, 2, wire.MarketUpdate{Type: wire.UpdateModify, MarketOrderId: 5, TickerId: 0, Side: 1, Price: 100, Qty: 6})
	pushInc(in, 3, wire.MarketUpdate{Type: wire.UpdateTrade, MarketOrderId: 0, TickerId: 0, Price: 100, Qty: 4})

	for in.Size() > 0 {
		slot := in.ReadSlot()
		s.addToSnapshot(*slot)
		in.CommitRead()
	}

	h := s.slotFor(0, 5)
	if h < 0 {
		t.Fatalf("expected order 5 to remain live after MODIFY")
	}
	if o := s.orders.Get(h); o.qty != 6 {
		t.Fatalf("expected MODIFY to update qty to 6, got %d", o.qty)
	}
	if s.lastIncSeqNum != 3 {
		t.Fatalf("expected lastIncSeqNum 3, got %d", s.lastIncSeqNum)
	}

	pushInc(in, 4, wire.MarketUpdate{Type: wire.UpdateCancel, MarketOrderId: 5, TickerId: 0, Side: 1})
	slot := in.ReadSlot()
	s.addToSnapshot(*slot)
	in.CommitRead()

	if s.slotFor(0, 5) != -1 {
		t.Fatalf("expected order 5 to be gone after CANCEL")
	}
}

func TestSynthesizerFatalsOnSeqNumGap(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected a panic on a sequence-number gap")
		}
	}()

	sock := &fakeSender{}
	s, _ := newTestSynthesizer(sock)
	s.addToSnapshot(wire.IncrementalEnvelope{SeqNum: 2, Update: wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1}})
}

func TestPublishSnapshotEmitsStartClearAddsEnd(t *testing.T) {
	sock := &fakeSender{}
	s, in := newTestSynthesizer(sock)

	pushInc(in, 1, wire.MarketUpdate{Type: wire.UpdateAdd, MarketOrderId: 1, TickerId: 0, Side: 1, Price: 100, Qty: 10, Priority: 1})
	for in.Size() > 0 {
		slot := in.ReadSlot()
		s.addToSnapshot(*slot)
		in.CommitRead()
	}

	s.publishSnapshot()

	if len(sock.sent) < 2+common.MaxTickers {
		t.Fatalf("expected at least START + per-ticker CLEAR + END, got %d datagrams", len(sock.sent))
	}
	first := wire.DecodeSnapshotEnvelope(sock.sent[0])
	if first.SeqNum != 0 || first.Update.Type != wire.UpdateSnapshotStart || first.Update.MarketOrderId != 1 {
		t.Fatalf("unexpected SNAPSHOT_START: %+v", first)
	}
	last := wire.DecodeSnapshotEnvelope(sock.sent[len(sock.sent)-1])
	if last.Update.Type != wire.UpdateSnapshotEnd || last.Update.MarketOrderId != 1 {
		t.Fatalf("unexpected SNAPSHOT_END: %+v", last)
	}

	var sawAdd bool
	for _, b := range sock.sent {
		env := wire.DecodeSnapshotEnvelope(b)
		if env.Update.Type == wire.UpdateAdd && env.Update.MarketOrderId == 1 && env.Update.TickerId == 0 {
			sawAdd = true
		}
	}
	if !sawAdd {
		t.Fatalf("expected the live order to appear as an ADD in the snapshot")
	}
}
