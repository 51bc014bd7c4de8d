package protocol

import (
	"fmt"
	"io"
)

// GenericCodec 通用编码器实现，统一做校验与错误包装
type GenericCodec struct {
	name      string
	encoder   func(w io.Writer, e *Envelope) error
	decoder   func(r io.Reader, e *Envelope, maxSize int) error
	validator func(e *Envelope) error
}

// NewGenericCodec 创建通用编码器
func NewGenericCodec(name string, encoder func(w io.Writer, e *Envelope) error, decoder func(r io.Reader, e *Envelope, maxSize int) error) *GenericCodec {
	return &GenericCodec{
		name:      name,
		encoder:   encoder,
		decoder:   decoder,
		validator: func(e *Envelope) error { return e.Validate() },
	}
}

// Name 返回编码器名称
func (g *GenericCodec) Name() string {
	return g.name
}

// Encode 编码消息
func (g *GenericCodec) Encode(w io.Writer, e *Envelope) error {
	if w == nil {
		return fmt.Errorf("%s.Encode: writer is nil", g.name)
	}
	if err := g.validator(e); err != nil {
		return fmt.Errorf("%s.Encode: %w", g.name, err)
	}
	if err := g.encoder(w, e); err != nil {
		return fmt.Errorf("%s.Encode: failed to encode envelope (Kind=%s, ID=%s): %w", g.name, e.Kind, e.ID, err)
	}
	return nil
}

// Decode 解码消息；解码或校验失败都返回 *DecodeError
func (g *GenericCodec) Decode(r io.Reader, e *Envelope, maxSize int) error {
	if r == nil {
		return fmt.Errorf("%s.Decode: reader is nil", g.name)
	}
	if e == nil {
		return fmt.Errorf("%s.Decode: envelope is nil", g.name)
	}
	if err := g.decoder(r, e, maxSize); err != nil {
		return &DecodeError{Codec: g.name, Err: err}
	}
	if err := g.validator(e); err != nil {
		return &DecodeError{Codec: g.name, Err: fmt.Errorf("decoded envelope invalid: %w", err)}
	}
	return nil
}
