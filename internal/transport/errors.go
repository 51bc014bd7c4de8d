package transport

import (
	"errors"
	"fmt"
)

// 传输层错误定义，除 IsEncodeError 外均视为连接不可用
var (
	ErrClosed               = NewTpError(1001, "Connection is closed", "")
	ErrInvalidCodec         = NewTpError(1002, "Invalid codec type", "")
	ErrFrameTooLarge        = NewTpError(1003, "Frame too large", "")
	ErrInvalidFrame         = NewTpError(1004, "Invalid frame", "")
	ErrSessionContextClosed = NewTpError(1005, "Session context is closed", "")
	ErrEncode               = NewTpError(1006, "Envelope encode failed", "")
	ErrInvalidTransport     = NewTpError(1007, "Invalid transport type", "")
)

// IsEncodeError 写出前的本地失败，没有字节进入连接，连接仍可用
func IsEncodeError(err error) bool {
	return errors.Is(err, ErrEncode) || errors.Is(err, ErrFrameTooLarge)
}

type tpError struct {
	code    int
	msg     string
	context string
}

func (e *tpError) Error() string {
	if e.context != "" {
		return fmt.Sprintf("Error %d: %s (context: %s)", e.code, e.msg, e.context)
	}
	return fmt.Sprintf("Error %d: %s", e.code, e.msg)
}

// Is 同一错误码视为同一错误，便于 errors.Is 匹配带上下文的实例
func (e *tpError) Is(target error) bool {
	t, ok := target.(*tpError)
	return ok && t.code == e.code
}

// Code 错误码
func (e *tpError) Code() int { return e.code }

func NewTpError(code int, message string, context string) *tpError {
	return &tpError{
		code:    code,
		msg:     message,
		context: context,
	}
}

// withContext 复制一份带上下文的错误
func (e *tpError) withContext(format string, args ...any) *tpError {
	return NewTpError(e.code, e.msg, fmt.Sprintf(format, args...))
}
