// Package marketdata implements the market-data publisher (C6) and
// snapshot synthesizer (C7) of §4.6/§4.7: the incremental multicast
// stream, the periodic full-book snapshot cycle, and the image table the
// snapshot is cut from.
package marketdata

import (
	"lowlatency-exchange/logging"
	"lowlatency-exchange/metrics"
	"lowlatency-exchange/ringqueue"
	"lowlatency-exchange/wire"
)

// Sender abstracts the outbound multicast socket so Publisher and
// SnapshotSynthesizer don't depend on the transport package directly;
// transport.Conn satisfies this trivially.
type Sender interface {
	Send(b []byte) error
}

// Publisher drains matching-engine market updates, assigns the global
// strictly-increasing incremental sequence number, emits each update on
// the incremental multicast stream, and forwards a copy to the snapshot
// synthesizer's ingress queue.
type Publisher struct {
	in            *ringqueue.Queue[wire.MarketUpdate]
	toSynthesizer *ringqueue.Queue[wire.IncrementalEnvelope]
	incSocket     Sender
	nextIncSeqNum uint64
	log           *logging.Logger
	stop          chan struct{}

	buf [wire.IncrementalEnvelopeSize]byte
}

// NewPublisher constructs a Publisher reading from in, publishing onto
// incSocket, and forwarding a capacity-sized copy of every update toward
// the snapshot synthesizer. log may be nil.
func NewPublisher(in *ringqueue.Queue[wire.MarketUpdate], synthesizerCapacity int, incSocket Sender, log *logging.Logger) *Publisher {
	return &Publisher{
		in:            in,
		toSynthesizer: ringqueue.New[wire.IncrementalEnvelope](synthesizerCapacity),
		incSocket:     incSocket,
		nextIncSeqNum: 1,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// ToSynthesizer returns the queue the SnapshotSynthesizer should read
// from.
func (p *Publisher) ToSynthesizer() *ringqueue.Queue[wire.IncrementalEnvelope] { return p.toSynthesizer }

// Run drains the ingress queue to quiescence, spinning on Size() when
// empty, per §5's no-blocking-wait rule.
func (p *Publisher) Run() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		slot := p.in.ReadSlot()
		if slot == nil {
			continue
		}
		p.publish(*slot)
		p.in.CommitRead()
		metrics.ObserveQueueDepth("marketdata.publisher.in", p.in.Size(), p.in.Capacity())
	}
}

// Stop asks the Run loop to return after its current spin check.
func (p *Publisher) Stop() { close(p.stop) }

func (p *Publisher) publish(update wire.MarketUpdate) {
	env := wire.IncrementalEnvelope{SeqNum: p.nextIncSeqNum, Update: update}

	wire.EncodeIncrementalEnvelope(p.buf[:], env)
	if err := p.incSocket.Send(p.buf[:]); err != nil && p.log != nil {
		p.log.Push(logging.Record{Level: logging.Error, Component: "marketdata.publisher", Message: err.Error(), SeqNum: int64(env.SeqNum)})
	}

	fwd := p.toSynthesizer.WriteSlot()
	*fwd = env
	p.toSynthesizer.CommitWrite()
	metrics.ObserveQueueDepth("marketdata.publisher.to_synthesizer", p.toSynthesizer.Size(), p.toSynthesizer.Capacity())

	p.nextIncSeqNum++
}
