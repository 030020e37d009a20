package wire

import "encoding/binary"

// Byte sizes of the packed wire records, §6 "All on-wire structures are
// 1-byte-packed, little-endian".
const (
	ClientRequestSize          = 1 + 4 + 4 + 8 + 1 + 8 + 4
	ClientRequestEnvelopeSize  = 8 + ClientRequestSize
	ClientResponseSize         = 1 + 4 + 4 + 8 + 8 + 1 + 8 + 4 + 4
	ClientResponseEnvelopeSize = 8 + ClientResponseSize
	MarketUpdateSize           = 1 + 8 + 4 + 1 + 8 + 4 + 8
	IncrementalEnvelopeSize    = 8 + MarketUpdateSize
	SnapshotEnvelopeSize       = 8 + MarketUpdateSize
)

func putInt64(b []byte, v int64)  { binary.LittleEndian.PutUint64(b, uint64(v)) }
func getInt64(b []byte) int64     { return int64(binary.LittleEndian.Uint64(b)) }

// EncodeClientRequest writes req into buf, which must be at least
// ClientRequestSize bytes.
func EncodeClientRequest(buf []byte, req ClientRequest) {
	buf[0] = byte(req.Type)
	binary.LittleEndian.PutUint32(buf[1:5], req.ClientId)
	binary.LittleEndian.PutUint32(buf[5:9], req.TickerId)
	binary.LittleEndian.PutUint64(buf[9:17], req.ClientOrderId)
	buf[17] = byte(req.Side)
	putInt64(buf[18:26], req.Price)
	binary.LittleEndian.PutUint32(buf[26:30], req.Qty)
}

// DecodeClientRequest reads a ClientRequest from buf.
func DecodeClientRequest(buf []byte) ClientRequest {
	return ClientRequest{
		Type:          RequestType(buf[0]),
		ClientId:      binary.LittleEndian.Uint32(buf[1:5]),
		TickerId:      binary.LittleEndian.Uint32(buf[5:9]),
		ClientOrderId: binary.LittleEndian.Uint64(buf[9:17]),
		Side:          int8(buf[17]),
		Price:         getInt64(buf[18:26]),
		Qty:           binary.LittleEndian.Uint32(buf[26:30]),
	}
}

// EncodeClientRequestEnvelope writes {seqNum, req} into buf.
func EncodeClientRequestEnvelope(buf []byte, env ClientRequestEnvelope) {
	binary.LittleEndian.PutUint64(buf[0:8], env.SeqNum)
	EncodeClientRequest(buf[8:8+ClientRequestSize], env.Request)
}

// DecodeClientRequestEnvelope reads {seqNum, req} from buf.
func DecodeClientRequestEnvelope(buf []byte) ClientRequestEnvelope {
	return ClientRequestEnvelope{
		SeqNum:  binary.LittleEndian.Uint64(buf[0:8]),
		Request: DecodeClientRequest(buf[8 : 8+ClientRequestSize]),
	}
}

// EncodeClientResponse writes resp into buf.
func EncodeClientResponse(buf []byte, resp ClientResponse) {
	buf[0] = byte(resp.Type)
	binary.LittleEndian.PutUint32(buf[1:5], resp.ClientId)
	binary.LittleEndian.PutUint32(buf[5:9], resp.TickerId)
	binary.LittleEndian.PutUint64(buf[9:17], resp.ClientOrderId)
	binary.LittleEndian.PutUint64(buf[17:25], resp.MarketOrderId)
	buf[25] = byte(resp.Side)
	putInt64(buf[26:34], resp.Price)
	binary.LittleEndian.PutUint32(buf[34:38], resp.ExecQty)
	binary.LittleEndian.PutUint32(buf[38:42], resp.LeavesQty)
}

// DecodeClientResponse reads a ClientResponse from buf.
func DecodeClientResponse(buf []byte) ClientResponse {
	return ClientResponse{
		Type:          ResponseType(buf[0]),
		ClientId:      binary.LittleEndian.Uint32(buf[1:5]),
		TickerId:      binary.LittleEndian.Uint32(buf[5:9]),
		ClientOrderId: binary.LittleEndian.Uint64(buf[9:17]),
		MarketOrderId: binary.LittleEndian.Uint64(buf[17:25]),
		Side:          int8(buf[25]),
		Price:         getInt64(buf[26:34]),
		ExecQty:       binary.LittleEndian.Uint32(buf[34:38]),
		LeavesQty:     binary.LittleEndian.Uint32(buf[38:42]),
	}
}

// EncodeClientResponseEnvelope writes {seqNum, resp} into buf.
func EncodeClientResponseEnvelope(buf []byte, env ClientResponseEnvelope) {
	binary.LittleEndian.PutUint64(buf[0:8], env.SeqNum)
	EncodeClientResponse(buf[8:8+ClientResponseSize], env.Response)
}

// DecodeClientResponseEnvelope reads {seqNum, resp} from buf.
func DecodeClientResponseEnvelope(buf []byte) ClientResponseEnvelope {
	return ClientResponseEnvelope{
		SeqNum:   binary.LittleEndian.Uint64(buf[0:8]),
		Response: DecodeClientResponse(buf[8 : 8+ClientResponseSize]),
	}
}

// EncodeMarketUpdate writes u into buf.
func EncodeMarketUpdate(buf []byte, u MarketUpdate) {
	buf[0] = byte(u.Type)
	binary.LittleEndian.PutUint64(buf[1:9], u.MarketOrderId)
	binary.LittleEndian.PutUint32(buf[9:13], u.TickerId)
	buf[13] = byte(u.Side)
	putInt64(buf[14:22], u.Price)
	binary.LittleEndian.PutUint32(buf[22:26], u.Qty)
	binary.LittleEndian.PutUint64(buf[26:34], u.Priority)
}

// DecodeMarketUpdate reads a MarketUpdate from buf.
func DecodeMarketUpdate(buf []byte) MarketUpdate {
	return MarketUpdate{
		Type:          UpdateType(buf[0]),
		MarketOrderId: binary.LittleEndian.Uint64(buf[1:9]),
		TickerId:      binary.LittleEndian.Uint32(buf[9:13]),
		Side:          int8(buf[13]),
		Price:         getInt64(buf[14:22]),
		Qty:           binary.LittleEndian.Uint32(buf[22:26]),
		Priority:      binary.LittleEndian.Uint64(buf[26:34]),
	}
}

// EncodeIncrementalEnvelope writes {incSeqNum, update} into buf.
func EncodeIncrementalEnvelope(buf []byte, env IncrementalEnvelope) {
	binary.LittleEndian.PutUint64(buf[0:8], env.SeqNum)
	EncodeMarketUpdate(buf[8:8+MarketUpdateSize], env.Update)
}

// DecodeIncrementalEnvelope reads {incSeqNum, update} from buf.
func DecodeIncrementalEnvelope(buf []byte) IncrementalEnvelope {
	return IncrementalEnvelope{
		SeqNum: binary.LittleEndian.Uint64(buf[0:8]),
		Update: DecodeMarketUpdate(buf[8 : 8+MarketUpdateSize]),
	}
}

// EncodeSnapshotEnvelope writes {snapSeqNum, update} into buf.
func EncodeSnapshotEnvelope(buf []byte, env SnapshotEnvelope) {
	binary.LittleEndian.PutUint64(buf[0:8], env.SeqNum)
	EncodeMarketUpdate(buf[8:8+MarketUpdateSize], env.Update)
}

// DecodeSnapshotEnvelope reads {snapSeqNum, update} from buf.
func DecodeSnapshotEnvelope(buf []byte) SnapshotEnvelope {
	return SnapshotEnvelope{
		SeqNum: binary.LittleEndian.Uint64(buf[0:8]),
		Update: DecodeMarketUpdate(buf[8 : 8+MarketUpdateSize]),
	}
}
