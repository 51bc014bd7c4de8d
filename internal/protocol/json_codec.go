package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// NewJSONCodec 以 JSON 对象承载信封，kind 字段作为判别符
func NewJSONCodec() MessageCodec {
	return NewGenericCodec(Json, jsonEncode, jsonDecode)
}

func jsonEncode(w io.Writer, e *Envelope) error {
	return json.NewEncoder(w).Encode(e)
}

func jsonDecode(r io.Reader, e *Envelope, maxSize int) error {
	rr := r
	if maxSize > 0 {
		rr = io.LimitReader(r, int64(maxSize))
	}
	raw, err := io.ReadAll(rr)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("{")) {
		return fmt.Errorf("payload not object")
	}
	if err := json.Unmarshal(trimmed, e); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}
