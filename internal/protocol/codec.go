package protocol

import (
	"fmt"
	"io"
	"strings"
)

const (
	CodecJson = iota
	CodecProtobuf
)

const (
	Json     = "json"
	Protobuf = "protobuf"
)

var codecFactories = map[int]func() MessageCodec{
	CodecJson:     NewJSONCodec,
	CodecProtobuf: NewProtobufCodec,
}

// CodecNameMapping 编码器名称到类型的映射
var CodecNameMapping = map[string]int{
	Json:     CodecJson,
	"pb":     CodecProtobuf,
	Protobuf: CodecProtobuf,
}

// MessageCodec 信封编解码器，Encode 的结果即一帧的内容
type MessageCodec interface {
	Name() string
	Encode(w io.Writer, m *Envelope) error
	Decode(r io.Reader, m *Envelope, maxSize int) error
}

// NewCodec 根据编码类型创建相应的编解码器
func NewCodec(cc int) (MessageCodec, error) {
	if factory, ok := codecFactories[cc]; ok {
		return factory(), nil
	}
	return nil, fmt.Errorf("unsupported codec type: %d", cc)
}

// NewCodecByName 根据名称创建编解码器（json|protobuf|pb）
func NewCodecByName(name string) (MessageCodec, error) {
	cc, ok := CodecNameMapping[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported codec name: %s", name)
	}
	return NewCodec(cc)
}
