package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// TestCodecFactory 测试编解码器工厂函数
func TestCodecFactory(t *testing.T) {
	tests := []struct {
		name      string
		codecType int
		wantError bool
		wantType  string
	}{
		{"JSON Codec", CodecJson, false, Json},
		{"Protobuf Codec", CodecProtobuf, false, Protobuf},
		{"Unknown Codec", 7, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := NewCodec(tt.codecType)
			if tt.wantError {
				if err == nil {
					t.Errorf("Expected error for codec type %d, but got none", tt.codecType)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for codec type %d: %v", tt.codecType, err)
			}
			if codec.Name() != tt.wantType {
				t.Errorf("Name mismatch: got %s, want %s", codec.Name(), tt.wantType)
			}
		})
	}

	if c, err := NewCodecByName(" PB "); err != nil || c.Name() != Protobuf {
		t.Errorf("NewCodecByName(pb) = %v, %v", c, err)
	}
	if _, err := NewCodecByName("msgpack"); err == nil {
		t.Errorf("expected msgpack to be unsupported")
	}
}

// TestCodecRoundTrip 两种编码器对四种信封都能还原种类与字段
func TestCodecRoundTrip(t *testing.T) {
	f := NewMessageFactory()
	envelopes := []*Envelope{
		f.NewGreeting("Athens"),
		f.NewHeartbeat(),
		f.NewRequest("echo", `"hi"`, []string{"Sparta", "Corinth"}),
		f.NewAck("7"),
	}
	for _, cc := range []int{CodecJson, CodecProtobuf} {
		codec, _ := NewCodec(cc)
		for _, want := range envelopes {
			t.Run(codec.Name()+"/"+string(want.Kind), func(t *testing.T) {
				var buf bytes.Buffer
				if err := codec.Encode(&buf, want); err != nil {
					t.Fatalf("encode: %v", err)
				}
				var got Envelope
				if err := codec.Decode(&buf, &got, 1<<20); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !reflect.DeepEqual(&got, want) {
					t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *want)
				}
			})
		}
	}
}

func TestCodecEncodeRejectsInvalid(t *testing.T) {
	codec := NewJSONCodec()
	var buf bytes.Buffer
	err := codec.Encode(&buf, &Envelope{ID: "1", Kind: KindRequest})
	if !errors.Is(err, ErrMissingKeyword) {
		t.Fatalf("expected ErrMissingKeyword, got %v", err)
	}
	if err := codec.Encode(nil, NewMessageFactory().NewHeartbeat()); err == nil {
		t.Fatalf("expected error for nil writer")
	}
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	codec := NewJSONCodec()
	cases := map[string]string{
		"not object":   `[]`,
		"malformed":    `{"id":"1","kind":"ack"`,
		"unknown kind": `{"id":"1","kind":"shout"}`,
		"missing id":   `{"kind":"heartbeat"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var e Envelope
			err := codec.Decode(strings.NewReader(raw), &e, 0)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if de.Codec != Json {
				t.Errorf("codec = %s", de.Codec)
			}
		})
	}
}

func TestProtobufCodec_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "abc")
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	b = protowire.AppendTag(b, 42, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 99)

	var e Envelope
	if err := NewProtobufCodec().Decode(bytes.NewReader(b), &e, 0); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.ID != "abc" || e.Kind != KindHeartbeat {
		t.Fatalf("unexpected envelope %+v", e)
	}
}

func TestProtobufCodec_DecodeGarbage(t *testing.T) {
	var e Envelope
	err := NewProtobufCodec().Decode(bytes.NewReader([]byte{0xff, 0xff, 0xff}), &e, 0)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
}
