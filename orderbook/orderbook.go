// Package orderbook implements the per-instrument limit order book (C3):
// an intrusive FIFO of orders per price level, an intrusive sorted list of
// price levels, and a price index, all built on top of package pool so
// the hot path never touches the heap after construction.
package orderbook

import (
	"fmt"
	"strconv"
	"strings"

	"lowlatency-exchange/common"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/pool"
	"lowlatency-exchange/wire"
)

// EventSink is the outbound-event trait named in §9: the book holds a
// reference to it and never reaches back up to its owner any other way.
type EventSink interface {
	EmitClientResponse(resp wire.ClientResponse)
	EmitMarketUpdate(update wire.MarketUpdate)
}

type orderSlot struct {
	tickerId      common.TickerId
	clientId      common.ClientId
	clientOrderId common.OrderId
	marketOrderId common.MarketOrderId
	side          common.Side
	price         common.Price
	qty           common.Qty
	priority      common.Priority

	// prevOrder/nextOrder form the intrusive circular FIFO at this
	// order's price level, handle-linked per §9's "indices into the
	// object pool" generalization.
	prevOrder pool.Handle
	nextOrder pool.Handle
}

type levelSlot struct {
	side  common.Side
	price common.Price

	firstOrder pool.Handle // handle into the order pool

	// prevLevel/nextLevel form the intrusive circular list of live
	// levels on this side, most aggressive first.
	prevLevel pool.Handle
	nextLevel pool.Handle
}

// OrderBook holds resting liquidity for one instrument and performs
// price-time priority FIFO matching against incoming aggressive orders.
type OrderBook struct {
	tickerId common.TickerId
	sink     EventSink

	bestBid pool.Handle // level handle, pool.Invalid if no live bid
	bestAsk pool.Handle // level handle, pool.Invalid if no live ask

	// levelIndex is shared across both sides: a live bid and a live ask
	// can never share a price (they would already have crossed and
	// matched away), so a single price->level map is safe, matching
	// the original's single m_priceOrdersAtPrice hash map.
	levelIndex PriceIndex

	// cidOidIndex[clientId][clientOrderId] -> order handle, a two-level
	// dense array for O(1) cancel lookup (§3).
	cidOidIndex [][]pool.Handle

	nextMarketOrderId common.MarketOrderId

	orders *pool.Pool[orderSlot]
	levels *pool.Pool[levelSlot]
}

// Option configures an OrderBook at construction.
type Option func(*OrderBook)

// WithTreePriceIndex selects the red-black-tree-backed PriceIndex instead
// of the spec-default direct-address table — see §9's open question and
// DESIGN.md.
func WithTreePriceIndex() Option {
	return func(ob *OrderBook) { ob.levelIndex = NewTreePriceIndex() }
}

// New constructs an empty order book for tickerId, reporting through
// sink. orderCapacity bounds resting orders (MAX_ORDER_IDS), levelCapacity
// bounds live price levels (MAX_PRICE_LEVELS), maxClients and
// maxOrderIdsPerClient size cidOidIndex.
func New(tickerId common.TickerId, sink EventSink, orderCapacity, levelCapacity, maxClients, maxOrderIdsPerClient int, opts ...Option) *OrderBook {
	cidOid := make([][]pool.Handle, maxClients)
	for c := range cidOid {
		row := make([]pool.Handle, maxOrderIdsPerClient)
		for i := range row {
			row[i] = pool.Invalid
		}
		cidOid[c] = row
	}

	ob := &OrderBook{
		tickerId:          tickerId,
		sink:              sink,
		bestBid:           pool.Invalid,
		bestAsk:           pool.Invalid,
		levelIndex:        NewDirectPriceIndex(levelCapacity),
		cidOidIndex:       cidOid,
		nextMarketOrderId: 1,
		orders:            pool.New[orderSlot](orderCapacity),
		levels:            pool.New[levelSlot](levelCapacity),
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

func (ob *OrderBook) bestHandle(side common.Side) pool.Handle {
	if side == common.SideBuy {
		return ob.bestBid
	}
	return ob.bestAsk
}

func (ob *OrderBook) setBest(side common.Side, h pool.Handle) {
	if side == common.SideBuy {
		ob.bestBid = h
	} else {
		ob.bestAsk = h
	}
}

// isBetterPrice reports whether candidate is strictly more aggressive
// than reference on side (higher for BUY, lower for SELL).
func isBetterPrice(side common.Side, candidate, reference common.Price) bool {
	if side == common.SideBuy {
		return candidate > reference
	}
	return candidate < reference
}

// addLevel inserts a newly allocated, empty level into the circular
// per-side level list in price order and updates the index/best pointer,
// generalizing the original's AddOrdersAtPrice.
func (ob *OrderBook) addLevel(h pool.Handle) {
	lvl := ob.levels.Get(h)
	ob.levelIndex.Set(lvl.price, h)

	best := ob.bestHandle(lvl.side)
	if best == pool.Invalid {
		ob.setBest(lvl.side, h)
		lvl.prevLevel, lvl.nextLevel = h, h
		return
	}

	bestLvl := ob.levels.Get(best)
	target := best
	targetLvl := bestLvl
	addAfter := isBetterPrice(lvl.side, targetLvl.price, lvl.price)
	if addAfter {
		target = targetLvl.nextLevel
		targetLvl = ob.levels.Get(target)
		addAfter = isBetterPrice(lvl.side, targetLvl.price, lvl.price)
	}
	for addAfter && target != best {
		addAfter = isBetterPrice(lvl.side, targetLvl.price, lvl.price)
		if addAfter {
			target = targetLvl.nextLevel
			targetLvl = ob.levels.Get(target)
		}
	}

	if addAfter {
		if target == best {
			target = bestLvl.prevLevel
			targetLvl = ob.levels.Get(target)
		}
		nextH := targetLvl.nextLevel
		nextLvl := ob.levels.Get(nextH)
		lvl.prevLevel = target
		nextLvl.prevLevel = h
		lvl.nextLevel = nextH
		targetLvl.nextLevel = h
	} else {
		lvl.prevLevel = targetLvl.prevLevel
		lvl.nextLevel = target
		prevLvl := ob.levels.Get(targetLvl.prevLevel)
		prevLvl.nextLevel = h
		targetLvl.prevLevel = h

		if isBetterPrice(lvl.side, lvl.price, bestLvl.price) {
			if targetLvl.nextLevel == best {
				targetLvl.nextLevel = h
			}
			ob.setBest(lvl.side, h)
		}
	}
}

// removeLevel unlinks the level at h from the circular per-side list,
// updates the index/best pointer, and returns the slot to the level pool.
func (ob *OrderBook) removeLevel(h pool.Handle) {
	lvl := ob.levels.Get(h)
	best := ob.bestHandle(lvl.side)

	if lvl.nextLevel == h {
		ob.setBest(lvl.side, pool.Invalid)
	} else {
		prevLvl := ob.levels.Get(lvl.prevLevel)
		nextLvl := ob.levels.Get(lvl.nextLevel)
		prevLvl.nextLevel = lvl.nextLevel
		nextLvl.prevLevel = lvl.prevLevel
		if h == best {
			ob.setBest(lvl.side, lvl.nextLevel)
		}
	}

	ob.levelIndex.Clear(lvl.price)
	ob.levels.Release(h)
}

func (ob *OrderBook) nextPriority(price common.Price) common.Priority {
	h := ob.levelIndex.Get(price)
	if h == pool.Invalid {
		return 1
	}
	lvl := ob.levels.Get(h)
	first := ob.orders.Get(lvl.firstOrder)
	last := ob.orders.Get(first.prevOrder)
	return last.priority + 1
}

// linkOrder appends orderH at the tail of its price level's FIFO,
// creating the level if this is the first order at that price.
func (ob *OrderBook) linkOrder(orderH pool.Handle) {
	o := ob.orders.Get(orderH)
	levelH := ob.levelIndex.Get(o.price)

	if levelH == pool.Invalid {
		o.prevOrder, o.nextOrder = orderH, orderH
		newLevelH, newLevel := ob.levels.Allocate()
		newLevel.side = o.side
		newLevel.price = o.price
		newLevel.firstOrder = orderH
		ob.addLevel(newLevelH)
	} else {
		lvl := ob.levels.Get(levelH)
		first := ob.orders.Get(lvl.firstOrder)
		lastH := first.prevOrder
		last := ob.orders.Get(lastH)

		last.nextOrder = orderH
		o.prevOrder = lastH
		o.nextOrder = lvl.firstOrder
		first.prevOrder = orderH
	}

	ob.cidOidIndex[o.clientId][o.clientOrderId] = orderH
}

// removeOrder unlinks orderH from its level's FIFO (removing the level
// too if it was the sole order), clears the cancel index, and releases
// the order's slot.
func (ob *OrderBook) removeOrder(orderH pool.Handle) {
	o := ob.orders.Get(orderH)
	levelH := ob.levelIndex.Get(o.price)

	if o.prevOrder == orderH {
		ob.removeLevel(levelH)
	} else {
		lvl := ob.levels.Get(levelH)
		before := ob.orders.Get(o.prevOrder)
		after := ob.orders.Get(o.nextOrder)
		before.nextOrder = o.nextOrder
		after.prevOrder = o.prevOrder
		if lvl.firstOrder == orderH {
			lvl.firstOrder = o.nextOrder
		}
	}

	ob.cidOidIndex[o.clientId][o.clientOrderId] = pool.Invalid
	ob.orders.Release(orderH)
}

// match executes one fill of the aggressor against the resting order at
// restingH, per §4.3's Matching algorithm steps 2-5.
func (ob *OrderBook) match(aggressorSide common.Side, aggressorClient common.ClientId, aggressorCoid common.OrderId, aggressorMoid common.MarketOrderId, restingH pool.Handle, leaves *common.Qty) {
	resting := ob.orders.Get(restingH)
	orderQty := resting.qty
	fill := *leaves
	if resting.qty < fill {
		fill = resting.qty
	}

	*leaves -= fill
	resting.qty -= fill

	ob.sink.EmitClientResponse(wire.ClientResponse{
		Type:          wire.ResponseFilled,
		ClientId:      uint32(aggressorClient),
		TickerId:      uint32(ob.tickerId),
		ClientOrderId: uint64(aggressorCoid),
		MarketOrderId: uint64(aggressorMoid),
		Side:          int8(aggressorSide),
		Price:         int64(resting.price),
		ExecQty:       uint32(fill),
		LeavesQty:     uint32(*leaves),
	})

	ob.sink.EmitClientResponse(wire.ClientResponse{
		Type:          wire.ResponseFilled,
		ClientId:      uint32(resting.clientId),
		TickerId:      uint32(ob.tickerId),
		ClientOrderId: uint64(resting.clientOrderId),
		MarketOrderId: uint64(resting.marketOrderId),
		Side:          int8(resting.side),
		Price:         int64(resting.price),
		ExecQty:       uint32(fill),
		LeavesQty:     uint32(resting.qty),
	})

	ob.sink.EmitMarketUpdate(wire.MarketUpdate{
		Type:          wire.UpdateTrade,
		MarketOrderId: uint64(common.MarketOrderIdInvalid),
		TickerId:      uint32(ob.tickerId),
		Side:          int8(aggressorSide),
		Price:         int64(resting.price),
		Qty:           uint32(fill),
		Priority:      uint64(common.PriorityInvalid),
	})

	label := ob.tickerLabel()
	metrics.TradesExecuted.WithLabelValues(label).Inc()
	metrics.OrdersFilled.WithLabelValues(label).Inc() // aggressor leg
	metrics.OrdersFilled.WithLabelValues(label).Inc() // resting leg

	if resting.qty == 0 {
		ob.sink.EmitMarketUpdate(wire.MarketUpdate{
			Type:          wire.UpdateCancel,
			MarketOrderId: uint64(resting.marketOrderId),
			TickerId:      uint32(ob.tickerId),
			Side:          int8(resting.side),
			Price:         int64(resting.price),
			Qty:           uint32(orderQty),
			Priority:      uint64(common.PriorityInvalid),
		})
		ob.removeOrder(restingH)
	} else {
		ob.sink.EmitMarketUpdate(wire.MarketUpdate{
			Type:          wire.UpdateModify,
			MarketOrderId: uint64(resting.marketOrderId),
			TickerId:      uint32(ob.tickerId),
			Side:          int8(resting.side),
			Price:         int64(resting.price),
			Qty:           uint32(resting.qty),
			Priority:      uint64(resting.priority),
		})
	}
}

// checkForMatch repeatedly matches the aggressor against the best
// opposing level while it crosses, returning the residual quantity.
func (ob *OrderBook) checkForMatch(aggressorSide common.Side, aggressorClient common.ClientId, aggressorCoid common.OrderId, aggressorMoid common.MarketOrderId, price common.Price, qty common.Qty) common.Qty {
	leaves := qty
	opposite := common.SideSell
	if aggressorSide == common.SideSell {
		opposite = common.SideBuy
	}

	for leaves > 0 {
		bestH := ob.bestHandle(opposite)
		if bestH == pool.Invalid {
			break
		}
		bestLvl := ob.levels.Get(bestH)

		if aggressorSide == common.SideBuy {
			if price < bestLvl.price {
				break
			}
		} else {
			if price > bestLvl.price {
				break
			}
		}

		ob.match(aggressorSide, aggressorClient, aggressorCoid, aggressorMoid, bestLvl.firstOrder, &leaves)
	}
	return leaves
}

// AddOrder implements §4.3's addOrder contract.
func (ob *OrderBook) AddOrder(clientId common.ClientId, clientOrderId common.OrderId, side common.Side, price common.Price, qty common.Qty) {
	moid := ob.nextMarketOrderId
	ob.nextMarketOrderId++

	ob.sink.EmitClientResponse(wire.ClientResponse{
		Type:          wire.ResponseAccepted,
		ClientId:      uint32(clientId),
		TickerId:      uint32(ob.tickerId),
		ClientOrderId: uint64(clientOrderId),
		MarketOrderId: uint64(moid),
		Side:          int8(side),
		Price:         int64(price),
		ExecQty:       0,
		LeavesQty:     uint32(qty),
	})
	metrics.OrdersAccepted.WithLabelValues(ob.tickerLabel()).Inc()

	// §4.3 Open Question (§9/§13): NEW with qty==0 is an accept with
	// nothing further to do.
	if qty == 0 {
		return
	}

	leaves := ob.checkForMatch(side, clientId, clientOrderId, moid, price, qty)
	if leaves == 0 {
		return
	}

	priority := ob.nextPriority(price)
	orderH, o := ob.orders.Allocate()
	o.tickerId = ob.tickerId
	o.clientId = clientId
	o.clientOrderId = clientOrderId
	o.marketOrderId = moid
	o.side = side
	o.price = price
	o.qty = leaves
	o.priority = priority

	ob.linkOrder(orderH)

	ob.sink.EmitMarketUpdate(wire.MarketUpdate{
		Type:          wire.UpdateAdd,
		MarketOrderId: uint64(moid),
		TickerId:      uint32(ob.tickerId),
		Side:          int8(side),
		Price:         int64(price),
		Qty:           uint32(leaves),
		Priority:      uint64(priority),
	})
}

// CancelOrder implements §4.3's cancelOrder contract. Never fatal.
func (ob *OrderBook) CancelOrder(clientId common.ClientId, clientOrderId common.OrderId) {
	cancelable := int(clientId) < len(ob.cidOidIndex) && uint64(clientOrderId) < uint64(len(ob.cidOidIndex[clientId]))
	orderH := pool.Invalid
	if cancelable {
		orderH = ob.cidOidIndex[clientId][clientOrderId]
		cancelable = orderH != pool.Invalid
	}

	if !cancelable {
		ob.sink.EmitClientResponse(wire.ClientResponse{
			Type:          wire.ResponseCancelRejected,
			ClientId:      uint32(clientId),
			TickerId:      0,
			ClientOrderId: uint64(clientOrderId),
			MarketOrderId: uint64(common.MarketOrderIdInvalid),
			Side:          int8(common.SideInvalid),
			Price:         int64(common.PriceInvalid),
			ExecQty:       uint32(common.QtyInvalid),
			LeavesQty:     uint32(common.QtyInvalid),
		})
		metrics.CancelRejected.WithLabelValues(ob.tickerLabel()).Inc()
		return
	}

	o := ob.orders.Get(orderH)
	resp := wire.ClientResponse{
		Type:          wire.ResponseCanceled,
		ClientId:      uint32(clientId),
		TickerId:      uint32(ob.tickerId),
		ClientOrderId: uint64(clientOrderId),
		MarketOrderId: uint64(o.marketOrderId),
		Side:          int8(o.side),
		Price:         int64(o.price),
		ExecQty:       uint32(common.QtyInvalid),
		LeavesQty:     uint32(o.qty),
	}
	update := wire.MarketUpdate{
		Type:          wire.UpdateCancel,
		MarketOrderId: uint64(o.marketOrderId),
		TickerId:      uint32(ob.tickerId),
		Side:          int8(o.side),
		Price:         int64(o.price),
		Qty:           0,
		Priority:      uint64(o.priority),
	}

	ob.removeOrder(orderH)

	ob.sink.EmitMarketUpdate(update)
	ob.sink.EmitClientResponse(resp)
	metrics.OrdersCanceled.WithLabelValues(ob.tickerLabel()).Inc()
}

// BestBid returns the best live bid price, or common.PriceInvalid if the
// bid side is empty.
func (ob *OrderBook) BestBid() common.Price { return ob.bestPrice(ob.bestBid) }

// BestAsk returns the best live ask price, or common.PriceInvalid if the
// ask side is empty.
func (ob *OrderBook) BestAsk() common.Price { return ob.bestPrice(ob.bestAsk) }

// tickerLabel is the Prometheus label value for this book's ticker,
// shared by every counter the book increments.
func (ob *OrderBook) tickerLabel() string { return strconv.Itoa(int(ob.tickerId)) }

func (ob *OrderBook) bestPrice(h pool.Handle) common.Price {
	if h == pool.Invalid {
		return common.PriceInvalid
	}
	return ob.levels.Get(h).price
}

// Validate walks both circular level lists checking the invariants of
// §4.3/§8.1 and returns the first violation found, or nil. Grounded on
// the original's ToString(detailed, validity_check) sanity-check pass,
// used here as a standalone diagnostic rather than baked into a string
// dump.
func (ob *OrderBook) Validate() error {
	if err := ob.validateSide(common.SideSell, ob.bestAsk); err != nil {
		return err
	}
	if err := ob.validateSide(common.SideBuy, ob.bestBid); err != nil {
		return err
	}
	return nil
}

func (ob *OrderBook) validateSide(side common.Side, best pool.Handle) error {
	if best == pool.Invalid {
		return nil
	}
	h := best
	var lastPrice common.Price
	first := true
	for {
		lvl := ob.levels.Get(h)
		if !first && !isBetterPrice(side, lastPrice, lvl.price) && lastPrice != lvl.price {
			return fmt.Errorf("orderbook: levels not monotonic on %s side: %d then %d", side, lastPrice, lvl.price)
		}
		if err := ob.validateLevel(h); err != nil {
			return err
		}
		lastPrice, first = lvl.price, false
		h = lvl.nextLevel
		if h == best {
			return nil
		}
	}
}

func (ob *OrderBook) validateLevel(levelH pool.Handle) error {
	lvl := ob.levels.Get(levelH)
	if lvl.firstOrder == pool.Invalid {
		return fmt.Errorf("orderbook: live level at %d has no orders", lvl.price)
	}
	o := ob.orders.Get(lvl.firstOrder)
	first := ob.orders.Get(o.prevOrder)
	if first.nextOrder != lvl.firstOrder {
		return fmt.Errorf("orderbook: level at %d FIFO circularity broken", lvl.price)
	}
	return nil
}

// String renders a human-readable dump of both sides, for tests and the
// diagnostic path named in §7.
func (ob *OrderBook) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker:%d\n", ob.tickerId)
	ob.dumpSide(&b, "ASKS", ob.bestAsk)
	fmt.Fprintln(&b, "            X")
	ob.dumpSide(&b, "BIDS", ob.bestBid)
	return b.String()
}

func (ob *OrderBook) dumpSide(b *strings.Builder, label string, best pool.Handle) {
	if best == pool.Invalid {
		fmt.Fprintf(b, "%s <empty>\n", label)
		return
	}
	h := best
	for i := 0; ; i++ {
		lvl := ob.levels.Get(h)
		var qty common.Qty
		n := 0
		o := ob.orders.Get(lvl.firstOrder)
		start := lvl.firstOrder
		for {
			qty += o.qty
			n++
			if o.nextOrder == start {
				break
			}
			o = ob.orders.Get(o.nextOrder)
		}
		fmt.Fprintf(b, "%s L:%d price:%d qty:%d orders:%d\n", label, i, lvl.price, qty, n)
		h = lvl.nextLevel
		if h == best {
			return
		}
	}
}
