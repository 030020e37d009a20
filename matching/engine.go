// Package matching implements the matching engine thread (§4.4): a
// single-threaded, per-core dispatch loop that owns one orderbook.OrderBook
// per ticker, drains client requests to quiescence, and forwards every
// response/update produced into outbound queues toward the order server
// and the market-data publisher.
package matching

import (
	"runtime"

	"lowlatency-exchange/common"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/orderbook"
	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

// Engine owns every ticker's order book and the three queues that connect
// it to the rest of the pipeline: one ingress of sequenced client requests,
// and two egress queues (client responses, market updates). It implements
// orderbook.EventSink so each book's emissions land directly on the egress
// queues without an intermediate hop.
type Engine struct {
	books [common.MaxTickers]*orderbook.OrderBook

	ingress          *ringqueue.Queue[wire.ClientRequestEnvelope]
	clientResponses  *ringqueue.Queue[wire.ClientResponse]
	marketUpdates    *ringqueue.Queue[wire.MarketUpdate]

	// activeTicker is set by Run for the duration of each dispatched
	// request so EmitClientResponse/EmitMarketUpdate can stamp the
	// TickerId the wire types carry but OrderBook itself does not track.
	activeTicker common.TickerId

	stop chan struct{}
}

// New constructs an Engine with one order book per ticker in
// [0, common.MaxTickers), all sharing the given egress queues.
func New(ingressCapacity, egressCapacity, orderCapacity, levelCapacity int) *Engine {
	e := &Engine{
		ingress:         ringqueue.New[wire.ClientRequestEnvelope](ingressCapacity),
		clientResponses: ringqueue.New[wire.ClientResponse](egressCapacity),
		marketUpdates:   ringqueue.New[wire.MarketUpdate](egressCapacity),
		stop:            make(chan struct{}),
	}
	for t := 0; t < common.MaxTickers; t++ {
		e.books[t] = orderbook.New(
			common.TickerId(t), e,
			orderCapacity, levelCapacity,
			common.MaxClients, common.MaxOrderIdsPerClient,
		)
	}
	return e
}

// Ingress returns the queue producers (the sequencer) publish sequenced
// client requests into.
func (e *Engine) Ingress() *ringqueue.Queue[wire.ClientRequestEnvelope] { return e.ingress }

// ClientResponses returns the queue this engine publishes responses into.
func (e *Engine) ClientResponses() *ringqueue.Queue[wire.ClientResponse] { return e.clientResponses }

// MarketUpdates returns the queue this engine publishes market data into.
func (e *Engine) MarketUpdates() *ringqueue.Queue[wire.MarketUpdate] { return e.marketUpdates }

// EmitClientResponse implements orderbook.EventSink. It stamps the ticker
// the currently-dispatched request targeted, since OrderBook itself is
// ticker-agnostic, and pushes onto the egress queue.
func (e *Engine) EmitClientResponse(resp wire.ClientResponse) {
	resp.TickerId = uint32(e.activeTicker)
	slot := e.clientResponses.WriteSlot()
	*slot = resp
	e.clientResponses.CommitWrite()
	metrics.ObserveQueueDepth("matching.client_responses", e.clientResponses.Size(), e.clientResponses.Capacity())
}

// EmitMarketUpdate implements orderbook.EventSink.
func (e *Engine) EmitMarketUpdate(update wire.MarketUpdate) {
	update.TickerId = uint32(e.activeTicker)
	slot := e.marketUpdates.WriteSlot()
	*slot = update
	e.marketUpdates.CommitWrite()
	metrics.ObserveQueueDepth("matching.market_updates", e.marketUpdates.Size(), e.marketUpdates.Capacity())
}

// Run pins the calling goroutine to its OS thread and services the
// ingress queue until Stop is called. Per §4.4 the loop never blocks or
// waits on a condition variable: with nothing queued it spins on Size(),
// and a drained batch is processed to quiescence before the next spin
// check, so no request sits buffered across iterations.
func (e *Engine) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		slot := e.ingress.ReadSlot()
		if slot == nil {
			continue
		}
		e.dispatch(*slot)
		e.ingress.CommitRead()
		metrics.ObserveQueueDepth("matching.ingress", e.ingress.Size(), e.ingress.Capacity())
	}
}

// Stop asks the Run loop to return after its current spin check.
func (e *Engine) Stop() { close(e.stop) }

// dispatch routes one sequenced client request to its ticker's book.
// Any request type other than NEW or CANCEL is a protocol violation this
// engine has no recovery path for, so it is fatal per §7.
func (e *Engine) dispatch(env wire.ClientRequestEnvelope) {
	req := env.Request
	if int(req.TickerId) >= common.MaxTickers {
		common.Fatalf("matching: request for out-of-range ticker %d", req.TickerId)
	}
	e.activeTicker = common.TickerId(req.TickerId)
	book := e.books[req.TickerId]

	switch req.Type {
	case wire.RequestNew:
		book.AddOrder(
			common.ClientId(req.ClientId),
			common.OrderId(req.ClientOrderId),
			common.Side(req.Side),
			common.Price(req.Price),
			common.Qty(req.Qty),
		)
	case wire.RequestCancel:
		book.CancelOrder(common.ClientId(req.ClientId), common.OrderId(req.ClientOrderId))
	default:
		common.Fatalf("matching: unrecognized request type %d", req.Type)
	}
}

// Book returns the order book backing the given ticker, for callers
// (metrics, snapshot seeding, tests) that need to inspect book state
// directly rather than through the wire queues.
func (e *Engine) Book(ticker common.TickerId) *orderbook.OrderBook {
	if int(ticker) >= common.MaxTickers {
		return nil
	}
	return e.books[ticker]
}
