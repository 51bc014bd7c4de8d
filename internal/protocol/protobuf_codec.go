package protocol

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// 信封的 protobuf 线格式（与 agora.proto 保持一致）：
//
//	message Envelope {
//	  string id = 1;
//	  Kind kind = 2;      // GREETING=1 HEARTBEAT=2 REQUEST=3 ACK=4
//	  int64 ts = 3;
//	  string sender = 4;
//	  string keyword = 5;
//	  string payload = 6;
//	  repeated string targets = 7;
//	  string ack_id = 8;
//	}
const (
	fieldID      protowire.Number = 1
	fieldKind    protowire.Number = 2
	fieldTs      protowire.Number = 3
	fieldSender  protowire.Number = 4
	fieldKeyword protowire.Number = 5
	fieldPayload protowire.Number = 6
	fieldTargets protowire.Number = 7
	fieldAckID   protowire.Number = 8
)

var kindToPB = map[Kind]uint64{
	KindGreeting:  1,
	KindHeartbeat: 2,
	KindRequest:   3,
	KindAck:       4,
}

var pbToKind = map[uint64]Kind{
	1: KindGreeting,
	2: KindHeartbeat,
	3: KindRequest,
	4: KindAck,
}

// NewProtobufCodec 将 Envelope 编码为 Protocol Buffers 线格式
func NewProtobufCodec() MessageCodec {
	return NewGenericCodec(Protobuf, protoEncode, protoDecode)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func protoEncode(w io.Writer, e *Envelope) error {
	kind, ok := kindToPB[e.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	var b []byte
	b = appendString(b, fieldID, e.ID)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, kind)
	if e.Ts != 0 {
		b = protowire.AppendTag(b, fieldTs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Ts))
	}
	b = appendString(b, fieldSender, e.Sender)
	b = appendString(b, fieldKeyword, e.Keyword)
	b = appendString(b, fieldPayload, e.Payload)
	for _, t := range e.Targets {
		b = protowire.AppendTag(b, fieldTargets, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	b = appendString(b, fieldAckID, e.AckID)
	_, err := w.Write(b)
	return err
}

func protoDecode(r io.Reader, e *Envelope, maxSize int) error {
	rr := r
	if maxSize > 0 {
		rr = io.LimitReader(r, int64(maxSize))
	}
	b, err := io.ReadAll(rr)
	if err != nil {
		return err
	}
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			kind, ok := pbToKind[v]
			if !ok {
				return fmt.Errorf("%w: %d", ErrUnknownKind, v)
			}
			e.Kind = kind
			n = m
		case num == fieldTs && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			e.Ts = int64(v)
			n = m
		case typ == protowire.BytesType && num >= fieldID && num <= fieldAckID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			switch num {
			case fieldID:
				e.ID = v
			case fieldSender:
				e.Sender = v
			case fieldKeyword:
				e.Keyword = v
			case fieldPayload:
				e.Payload = v
			case fieldTargets:
				e.Targets = append(e.Targets, v)
			case fieldAckID:
				e.AckID = v
			}
			n = m
		default:
			// 未知字段直接跳过，保持向前兼容
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}
