package wire

import "testing"

func TestClientRequestEnvelopeRoundTrip(t *testing.T) {
	want := ClientRequestEnvelope{
		SeqNum: 7,
		Request: ClientRequest{
			Type:          RequestNew,
			ClientId:      3,
			TickerId:      1,
			ClientOrderId: 42,
			Side:          1,
			Price:         100,
			Qty:           10,
		},
	}

	buf := make([]byte, ClientRequestEnvelopeSize)
	EncodeClientRequestEnvelope(buf, want)
	got := DecodeClientRequestEnvelope(buf)

	if got != want {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

func TestClientResponseEnvelopeRoundTrip(t *testing.T) {
	want := ClientResponseEnvelope{
		SeqNum: 1,
		Response: ClientResponse{
			Type:          ResponseFilled,
			ClientId:      3,
			TickerId:      1,
			ClientOrderId: 42,
			MarketOrderId: 99,
			Side:          -1,
			Price:         100,
			ExecQty:       4,
			LeavesQty:     0,
		},
	}

	buf := make([]byte, ClientResponseEnvelopeSize)
	EncodeClientResponseEnvelope(buf, want)
	got := DecodeClientResponseEnvelope(buf)

	if got != want {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

func TestMarketUpdateEnvelopesRoundTrip(t *testing.T) {
	u := MarketUpdate{
		Type:          UpdateTrade,
		MarketOrderId: 0,
		TickerId:      2,
		Side:          1,
		Price:         -50,
		Qty:           6,
		Priority:      0,
	}

	inc := IncrementalEnvelope{SeqNum: 123, Update: u}
	buf := make([]byte, IncrementalEnvelopeSize)
	EncodeIncrementalEnvelope(buf, inc)
	if got := DecodeIncrementalEnvelope(buf); got != inc {
		t.Fatalf("incremental round trip mismatch: want %+v, got %+v", inc, got)
	}

	snap := SnapshotEnvelope{SeqNum: 0, Update: u}
	buf2 := make([]byte, SnapshotEnvelopeSize)
	EncodeSnapshotEnvelope(buf2, snap)
	if got := DecodeSnapshotEnvelope(buf2); got != snap {
		t.Fatalf("snapshot round trip mismatch: want %+v, got %+v", snap, got)
	}
}
