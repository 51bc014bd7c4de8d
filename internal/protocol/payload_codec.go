package protocol

import (
	"encoding/json"
	"fmt"
)

// PayloadCodec 业务对象与 Request.Payload 字符串之间的转换
type PayloadCodec interface {
	Name() string
	Encode(v any) (string, error)
	// Decode 将 s 解码到 v 指向的对象
	Decode(s string, v any) error
}

// JSONPayloadCodec 默认的 JSON 负载编解码
type JSONPayloadCodec struct{}

func (JSONPayloadCodec) Name() string { return Json }

// Encode 编码业务对象；nil 编码为 "null"
func (JSONPayloadCodec) Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

// Decode 空字符串视为 JSON null，目标保持零值
func (JSONPayloadCodec) Decode(s string, v any) error {
	if s == "" {
		s = "null"
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode payload into %T: %w", v, err)
	}
	return nil
}

// DefaultPayloadCodec 包级默认负载编解码
var DefaultPayloadCodec PayloadCodec = JSONPayloadCodec{}

// MustJSON 编码失败直接 panic，仅用于测试与常量负载
func MustJSON(v any) string {
	s, err := DefaultPayloadCodec.Encode(v)
	if err != nil {
		panic(err)
	}
	return s
}
