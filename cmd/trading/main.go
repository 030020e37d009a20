// Command trading wires together the trading-side threads mirroring
// T1-T4: order-gateway I/O against the exchange's TCP listener, the
// market-data consumer (incremental + snapshot multicast, C8 recovery),
// and a trade-engine goroutine that drains the synchronized update
// stream into a strategy callback. The feature engine, market-maker and
// liquidity-taker algorithms, position keeper, risk checker and order
// manager are black boxes per §1 — strategyCallback below is a
// pass-through stub, not an algorithm.
package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lowlatency-exchange/client"
	"lowlatency-exchange/common"
	"lowlatency-exchange/config"
	"lowlatency-exchange/logging"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/transport"
	"lowlatency-exchange/wire"
)

// strategyCallback is the trivial pass-through the feature/algo layer
// would otherwise implement (§9's "tagged union of algorithm instances,
// each implementing the same three event callbacks"). It only logs; it
// never submits an order.
type strategyCallback struct {
	sessionId string
	log       *logging.Logger
}

func (s *strategyCallback) onMarketUpdate(u wire.MarketUpdate) {
	if s.log == nil {
		return
	}
	s.log.Push(logging.Record{
		Component: "trading.strategy",
		Message:   fmt.Sprintf("market update type=%d side=%d price=%d qty=%d", u.Type, u.Side, u.Price, u.Qty),
		Ticker:    int64(u.TickerId),
		OrderID:   int64(u.MarketOrderId),
	})
}

func (s *strategyCallback) onClientResponse(r wire.ClientResponse) {
	if s.log == nil {
		return
	}
	s.log.Push(logging.Record{
		Component: "trading.strategy",
		Message:   fmt.Sprintf("client response type=%d execQty=%d leavesQty=%d session=%s", r.Type, r.ExecQty, r.LeavesQty, s.sessionId),
		Ticker:    int64(r.TickerId),
		Client:    int64(r.ClientId),
		OrderID:   int64(r.ClientOrderId),
	})
}

func main() {
	configPath := flag.String("config", "trading.yaml", "path to trading config file")
	flag.Parse()

	cfg, err := config.LoadTrading(*configPath)
	if err != nil {
		panic(err)
	}

	log := logging.New(1<<16, logging.Config{Filename: cfg.LogFile, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 7})
	common.SetFatalSink(log)
	defer log.Close()

	metrics.Register(nil)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(cfg.MetricsAddr, nil)
	}()

	sessionId := uuid.NewString() // process-level label only, never on the wire
	strategy := &strategyCallback{sessionId: sessionId, log: log}

	gw, err := newOrderGateway(cfg.ExchangeAddr, cfg.ClientId, log)
	if err != nil {
		panic(err)
	}
	go gw.run(strategy) // order-gateway I/O

	consumer, err := newMarketDataConsumer(cfg, log)
	if err != nil {
		panic(err)
	}
	go consumer.run() // market-data consumer: incremental + snapshot recv loops

	// trade-engine thread: drains the synchronized update stream C8
	// produces and hands each update to the strategy callback.
	out := consumer.recovery.Out()
	for {
		slot := out.ReadSlot()
		if slot == nil {
			continue
		}
		strategy.onMarketUpdate(*slot)
		out.CommitRead()
	}
}

// orderGateway owns the TCP connection to the exchange's order server:
// it assigns this session's per-client outgoing seqNum and decodes the
// response stream back into the strategy callback.
type orderGateway struct {
	conn         *transport.TCPConn
	clientId     uint32
	nextOutSeq   uint64
	nextExpected uint64
	log          *logging.Logger
}

func newOrderGateway(addr string, clientId uint32, log *logging.Logger) (*orderGateway, error) {
	conn, err := transport.DialTCP(addr)
	if err != nil {
		return nil, err
	}
	return &orderGateway{conn: conn, clientId: clientId, nextOutSeq: 1, nextExpected: 1, log: log}, nil
}

// SubmitNew sends a NEW client request; the strategy callback (not this
// gateway) decides when to call it, so a pass-through stub never does.
func (g *orderGateway) SubmitNew(tickerId uint32, orderId uint64, side int8, price int64, qty uint32) error {
	return g.send(wire.ClientRequest{Type: wire.RequestNew, ClientId: g.clientId, TickerId: tickerId, ClientOrderId: orderId, Side: side, Price: price, Qty: qty})
}

// SubmitCancel sends a CANCEL client request.
func (g *orderGateway) SubmitCancel(tickerId uint32, orderId uint64) error {
	return g.send(wire.ClientRequest{Type: wire.RequestCancel, ClientId: g.clientId, TickerId: tickerId, ClientOrderId: orderId})
}

func (g *orderGateway) send(req wire.ClientRequest) error {
	env := wire.ClientRequestEnvelope{SeqNum: g.nextOutSeq, Request: req}
	g.nextOutSeq++
	var buf [wire.ClientRequestEnvelopeSize]byte
	wire.EncodeClientRequestEnvelope(buf[:], env)
	return g.conn.Send(buf[:])
}

// run decodes the exchange's response stream, checking this session's
// own per-client seqNum for gaps (§6's ingress-gap rule applies
// symmetrically to the response leg), and hands every in-sequence
// response to the strategy callback. A response whose seqNum is not the
// next expected one is logged and dropped.
func (g *orderGateway) run(strategy *strategyCallback) {
	buf := make([]byte, wire.ClientResponseEnvelopeSize*256)
	valid := 0
	for {
		n, _, err := g.conn.Recv(buf[valid:])
		if err != nil {
			if g.log != nil {
				g.log.Push(logging.Record{Component: "trading.ordergateway", Message: fmt.Sprintf("recv: %v", err)})
			}
			return
		}
		valid += n

		off := 0
		for off+wire.ClientResponseEnvelopeSize <= valid {
			env := wire.DecodeClientResponseEnvelope(buf[off : off+wire.ClientResponseEnvelopeSize])
			off += wire.ClientResponseEnvelopeSize

			if env.SeqNum != g.nextExpected {
				if g.log != nil {
					g.log.Push(logging.Record{Level: logging.Warn, Component: "trading.ordergateway", Message: "response seqNum gap, dropping", SeqNum: int64(env.SeqNum)})
				}
				continue
			}
			g.nextExpected++
			strategy.onClientResponse(env.Response)
		}
		copy(buf, buf[off:valid])
		valid -= off
	}
}

// marketDataConsumer owns the two multicast sockets and the C8 recovery
// state machine that splices them into one synchronized update stream.
type marketDataConsumer struct {
	incConn  *transport.MulticastConn
	snapConn *transport.MulticastConn
	recovery *client.Recovery
	log      *logging.Logger
}

func newMarketDataConsumer(cfg *config.Trading, log *logging.Logger) (*marketDataConsumer, error) {
	incConn, err := transport.NewMulticastSubscriber(cfg.IncrementalMulticastIP, cfg.IncrementalMulticastPort, cfg.Interface)
	if err != nil {
		return nil, err
	}
	if err := incConn.Join(); err != nil {
		return nil, err
	}

	snapConn, err := transport.NewMulticastSubscriber(cfg.SnapshotMulticastIP, cfg.SnapshotMulticastPort, cfg.Interface)
	if err != nil {
		return nil, err
	}

	c := &marketDataConsumer{incConn: incConn, snapConn: snapConn, log: log}
	c.recovery = client.NewRecovery(int(common.MaxMarketUpdates), c.subscribeSnapshot, c.unsubscribeSnapshot, log)
	return c, nil
}

func (c *marketDataConsumer) subscribeSnapshot() {
	metrics.RecoveryCycles.WithLabelValues("all").Inc()
	if err := c.snapConn.Join(); err != nil && c.log != nil {
		c.log.Push(logging.Record{Level: logging.Error, Component: "trading.marketdata", Message: fmt.Sprintf("join snapshot group: %v", err)})
	}
}

func (c *marketDataConsumer) unsubscribeSnapshot() {
	if err := c.snapConn.Leave(); err != nil && c.log != nil {
		c.log.Push(logging.Record{Level: logging.Error, Component: "trading.marketdata", Message: fmt.Sprintf("leave snapshot group: %v", err)})
	}
}

// run services both multicast sockets in one goroutine: neither Recv
// call blocks (§5's non-blocking I/O requirement), so polling them in
// turn keeps a single spin loop without splitting across threads the
// spec doesn't call for on the trading side.
func (c *marketDataConsumer) run() {
	var incBuf [wire.IncrementalEnvelopeSize]byte
	var snapBuf [wire.SnapshotEnvelopeSize]byte
	for {
		if n, _, err := c.incConn.Recv(incBuf[:]); err == nil && n == wire.IncrementalEnvelopeSize {
			env := wire.DecodeIncrementalEnvelope(incBuf[:])
			c.recovery.HandleIncremental(env.SeqNum, env.Update)
		}
		if n, _, err := c.snapConn.Recv(snapBuf[:]); err == nil && n == wire.SnapshotEnvelopeSize {
			env := wire.DecodeSnapshotEnvelope(snapBuf[:])
			c.recovery.HandleSnapshot(env.SeqNum, env.Update)
		}
	}
}
