package sequencer

import (
	"testing"

	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

func envelope(clientOrderId uint64) wire.ClientRequestEnvelope {
	return wire.ClientRequestEnvelope{
		Request: wire.ClientRequest{Type: wire.RequestNew, ClientOrderId: clientOrderId},
	}
}

func TestSequenceAndPublishOrdersByAscendingReceiveTime(t *testing.T) {
	out := ringqueue.New[wire.ClientRequestEnvelope](8)
	s := New(8, out, nil)

	s.Add(30, envelope(3))
	s.Add(10, envelope(1))
	s.Add(20, envelope(2))
	s.SequenceAndPublish()

	var got []uint64
	for out.Size() > 0 {
		slot := out.ReadSlot()
		got = append(got, slot.Request.ClientOrderId)
		out.CommitRead()
	}
	want := []uint64{1, 2, 3}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

// Equal receive times must preserve insertion order — the documented
// deviation from the original's non-guaranteed-stable sort.
func TestTiedReceiveTimesPreserveInsertionOrder(t *testing.T) {
	out := ringqueue.New[wire.ClientRequestEnvelope](8)
	s := New(8, out, nil)

	s.Add(2, envelope(100))
	s.Add(2, envelope(200))
	s.SequenceAndPublish()

	first := out.ReadSlot()
	out.CommitRead()
	second := out.ReadSlot()
	out.CommitRead()

	if first.Request.ClientOrderId != 100 || second.Request.ClientOrderId != 200 {
		t.Fatalf("expected tie broken by insertion order, got %d then %d",
			first.Request.ClientOrderId, second.Request.ClientOrderId)
	}
}

func TestSequenceAndPublishResetsBatch(t *testing.T) {
	out := ringqueue.New[wire.ClientRequestEnvelope](8)
	s := New(8, out, nil)

	s.Add(1, envelope(1))
	s.SequenceAndPublish()
	if s.Pending() != 0 {
		t.Fatalf("expected batch to reset to empty, got %d pending", s.Pending())
	}

	s.SequenceAndPublish() // no-op on an empty batch
	if out.Size() != 1 {
		t.Fatalf("expected no additional writes from an empty publish")
	}
}

func TestAddOverflowIsFatal(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected a panic on buffer overflow")
		}
	}()

	out := ringqueue.New[wire.ClientRequestEnvelope](4)
	s := New(2, out, nil)
	s.Add(1, envelope(1))
	s.Add(2, envelope(2))
	s.Add(3, envelope(3))
}
