// Command exchange wires together the exchange-side threads (T1-T4):
// order-server I/O and sequencing, the matching engine, the market-data
// publisher, and the snapshot synthesizer.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lowlatency-exchange/common"
	"lowlatency-exchange/config"
	"lowlatency-exchange/logging"
	"lowlatency-exchange/matching"
	"lowlatency-exchange/marketdata"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/sequencer"
	"lowlatency-exchange/transport"
	"lowlatency-exchange/wire"
)

func main() {
	configPath := flag.String("config", "exchange.yaml", "path to exchange config file")
	flag.Parse()

	cfg, err := config.LoadExchange(*configPath)
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

	engine := matching.New(common.MaxPendingRequests, common.MaxClientUpdates, 1<<16, common.MaxPriceLevels)
	go engine.Run() // T2

	incSocket, err := transport.NewMulticastPublisher(cfg.IncrementalMulticastIP, cfg.IncrementalMulticastPort, cfg.Interface)
	if err != nil {
		panic(err)
	}
	publisher := marketdata.NewPublisher(engine.MarketUpdates(), common.MaxMarketUpdates, incSocket, log)
	go publisher.Run() // T3

	snapSocket, err := transport.NewMulticastPublisher(cfg.SnapshotMulticastIP, cfg.SnapshotMulticastPort, cfg.Interface)
	if err != nil {
		panic(err)
	}
	synthesizer := marketdata.NewSnapshotSynthesizer(publisher.ToSynthesizer(), common.MaxOrderIdsPerClient*common.MaxTickers, common.SnapshotPeriodNanos, snapSocket, log)
	go synthesizer.Run() // T4

	seq := sequencer.New(common.MaxPendingRequests, engine.Ingress(), log)
	runOrderServer(cfg, engine, seq, log) // T1, blocks
}

// connSession is the per-TCP-connection framing state: a socket and the
// bytes received but not yet decoded into a full envelope. It carries no
// clientId of its own — that identity is wire-supplied, not
// connection-derived, and is bound in clientState on first sight.
type connSession struct {
	conn  *transport.TCPConn
	buf   []byte
	valid int
}

// clientState is the per-clientId identity the order-server binds on the
// first request it ever sees for that clientId, mirroring
// OrderServer.h's RecvCallback: m_cidTcpSocket/m_cidNextExpSeqNum keyed by
// the wire-supplied clientId, not by accept order.
type clientState struct {
	conn         *transport.TCPConn
	nextExpected uint64 // next per-client ingress seqNum expected, starts at 1
	nextOutSeq   uint64 // next per-client egress seqNum to assign, starts at 1
}

// runOrderServer implements T1: accept client connections, poll every
// live connection once per round decoding whatever full envelopes have
// arrived, hand each to the sequencer, and publish the round at its end.
// A second goroutine drains client responses back out over the owning
// connection.
func runOrderServer(cfg *config.Exchange, engine *matching.Engine, seq *sequencer.Sequencer, log *logging.Logger) {
	ln, err := transport.ListenTCP(cfg.OrderServerAddr)
	if err != nil {
		panic(err)
	}
	defer ln.Close()

	var (
		mu       sync.RWMutex
		sessions []*connSession
		byClient [common.MaxClients]*clientState
	)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			sessions = append(sessions, &connSession{conn: conn, buf: make([]byte, wire.ClientRequestEnvelopeSize*256)})
			mu.Unlock()
		}
	}()

	go dispatchClientResponses(engine, &mu, &byClient, log)

	for {
		mu.RLock()
		live := append([]*connSession(nil), sessions...)
		mu.RUnlock()

		for _, session := range live {
			pollSession(session, &mu, &byClient, seq, log)
		}

		seq.SequenceAndPublish()
	}
}

// pollSession decodes whatever full envelopes have arrived on one
// connection. A request's clientId binds that connection as the
// clientId's socket of record on first sight; a later request for the
// same clientId arriving on a different connection is a protocol
// violation per spec and is logged and dropped rather than rebound.
func pollSession(session *connSession, mu *sync.RWMutex, byClient *[common.MaxClients]*clientState, seq *sequencer.Sequencer, log *logging.Logger) {
	for {
		n, recvTime, err := session.conn.Recv(session.buf[session.valid:])
		if err != nil {
			return
		}
		if n == 0 {
			break
		}
		session.valid += n

		off := 0
		for off+wire.ClientRequestEnvelopeSize <= session.valid {
			env := wire.DecodeClientRequestEnvelope(session.buf[off : off+wire.ClientRequestEnvelopeSize])
			off += wire.ClientRequestEnvelopeSize

			clientId := env.Request.ClientId
			if int(clientId) >= common.MaxClients {
				if log != nil {
					log.Push(logging.Record{Level: logging.Warn, Component: "orderserver", Message: "client request for out-of-range clientId, dropping", Client: int64(clientId)})
				}
				continue
			}

			mu.Lock()
			state := byClient[clientId]
			if state == nil {
				state = &clientState{conn: session.conn, nextExpected: 1, nextOutSeq: 1}
				byClient[clientId] = state
			}
			mu.Unlock()

			if state.conn != session.conn {
				if log != nil {
					log.Push(logging.Record{Level: logging.Warn, Component: "orderserver", Message: "client request from clientId on different socket than first seen, dropping", Client: int64(clientId)})
				}
				continue
			}

			if env.SeqNum != state.nextExpected {
				metrics.ClientIngressSeqGaps.Inc()
				if log != nil {
					log.Push(logging.Record{Level: logging.Warn, Component: "orderserver", Message: "client ingress seqNum gap, dropping", Client: int64(clientId), SeqNum: int64(env.SeqNum)})
				}
				continue
			}
			state.nextExpected++
			seq.Add(recvTime, env)
		}
		copy(session.buf, session.buf[off:session.valid])
		session.valid -= off
	}
}

func dispatchClientResponses(engine *matching.Engine, mu *sync.RWMutex, byClient *[common.MaxClients]*clientState, log *logging.Logger) {
	responses := engine.ClientResponses()
	buf := make([]byte, wire.ClientResponseEnvelopeSize)
	for {
		slot := responses.ReadSlot()
		if slot == nil {
			continue
		}
		resp := *slot
		responses.CommitRead()

		mu.RLock()
		state := byClient[resp.ClientId]
		mu.RUnlock()
		if state == nil {
			continue
		}

		env := wire.ClientResponseEnvelope{SeqNum: state.nextOutSeq, Response: resp}
		state.nextOutSeq++
		wire.EncodeClientResponseEnvelope(buf, env)
		if err := state.conn.Send(buf); err != nil && log != nil {
			log.Push(logging.Record{Level: logging.Error, Component: "orderserver", Message: fmt.Sprintf("send to client %d: %v", resp.ClientId, err), Client: int64(resp.ClientId)})
		}
	}
}
