package matching

import (
	"testing"
	"time"

	"lowlatency-exchange/common"
	"lowlatency-exchange/wire"
)

func newTestEngine() *Engine {
	return New(64, 256, 64, 16)
}

func pushNew(e *Engine, clientId, tickerId uint32, coid uint64, side int8, price int64, qty uint32) {
	slot := e.Ingress().WriteSlot()
	*slot = wire.ClientRequestEnvelope{
		Request: wire.ClientRequest{
			Type:          wire.RequestNew,
			ClientId:      clientId,
			TickerId:      tickerId,
			ClientOrderId: coid,
			Side:          side,
			Price:         price,
			Qty:           qty,
		},
	}
	e.Ingress().CommitWrite()
}

func pushCancel(e *Engine, clientId, tickerId uint32, coid uint64) {
	slot := e.Ingress().WriteSlot()
	*slot = wire.ClientRequestEnvelope{
		Request: wire.ClientRequest{
			Type:          wire.RequestCancel,
			ClientId:      clientId,
			TickerId:      tickerId,
			ClientOrderId: coid,
		},
	}
	e.Ingress().CommitWrite()
}

// waitForCondition polls cond until it is true or the deadline elapses,
// in the teacher's stress-test idiom: no blocking wait primitives, just a
// bounded spin so a stuck engine fails the test instead of hanging it.
func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEngineDispatchesNewAndStampsTicker(t *testing.T) {
	e := newTestEngine()
	go e.Run()
	defer e.Stop()

	pushNew(e, 0, 3, 1, 1, 100, 10)

	waitForCondition(t, time.Second, func() bool { return e.ClientResponses().Size() > 0 })

	slot := e.ClientResponses().ReadSlot()
	if slot == nil {
		t.Fatalf("expected a buffered response")
	}
	if slot.Type != wire.ResponseAccepted || slot.TickerId != 3 {
		t.Fatalf("unexpected response: %+v", *slot)
	}
	e.ClientResponses().CommitRead()
}

func TestEngineRoutesEachTickerToItsOwnBook(t *testing.T) {
	e := newTestEngine()
	go e.Run()
	defer e.Stop()

	pushNew(e, 0, 0, 1, 1, 100, 10)
	pushNew(e, 0, 1, 1, 1, 200, 10)

	waitForCondition(t, time.Second, func() bool { return e.ClientResponses().Size() >= 2 })

	seenTickers := map[uint32]bool{}
	for i := 0; i < 2; i++ {
		slot := e.ClientResponses().ReadSlot()
		seenTickers[slot.TickerId] = true
		e.ClientResponses().CommitRead()
	}
	if !seenTickers[0] || !seenTickers[1] {
		t.Fatalf("expected responses for both tickers, got %v", seenTickers)
	}
	if e.Book(0).BestBid() != 100 || e.Book(1).BestBid() != 200 {
		t.Fatalf("expected each ticker's book to hold its own resting order")
	}
}

func TestEngineAcceptAndCancelProduceExpectedResponses(t *testing.T) {
	e := newTestEngine()
	go e.Run()
	defer e.Stop()

	pushNew(e, 0, 0, 1, 1, 100, 10)
	pushCancel(e, 0, 0, 1)

	waitForCondition(t, time.Second, func() bool { return e.ClientResponses().Size() >= 2 })

	var gotAccepted, gotCanceled bool
	for i := 0; i < 2; i++ {
		slot := e.ClientResponses().ReadSlot()
		switch slot.Type {
		case wire.ResponseAccepted:
			gotAccepted = true
		case wire.ResponseCanceled:
			gotCanceled = true
		}
		e.ClientResponses().CommitRead()
	}
	if !gotAccepted || !gotCanceled {
		t.Fatalf("expected ACCEPTED then CANCELED, got accepted=%v canceled=%v", gotAccepted, gotCanceled)
	}
	if e.Book(0).BestBid() != common.PriceInvalid {
		t.Fatalf("expected book to be empty after canceling its only order")
	}
}

func TestEngineFatalsOnUnknownRequestType(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected a panic for an unrecognized request type")
		}
	}()

	e := newTestEngine()
	slot := e.Ingress().WriteSlot()
	*slot = wire.ClientRequestEnvelope{Request: wire.ClientRequest{Type: 99}}
	e.Ingress().CommitWrite()

	env := e.Ingress().ReadSlot()
	e.dispatch(*env)
}

func TestEngineFatalsOnOutOfRangeTicker(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected a panic for an out-of-range ticker")
		}
	}()

	e := newTestEngine()
	e.dispatch(wire.ClientRequestEnvelope{Request: wire.ClientRequest{
		Type:     wire.RequestNew,
		TickerId: uint32(len(e.books) + 1),
	}})
}
