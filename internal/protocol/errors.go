package protocol

import "fmt"

// DecodeError 完整读取一帧后解码失败；流本身仍可用，读循环跳过该帧即可
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s.Decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
