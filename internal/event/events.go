package event

import "time"

// Type 事件类型标识
type Type string

const (
	Connected     Type = "session.connected"
	Disconnected  Type = "session.disconnected"
	Greeted       Type = "session.greeted" // 本端 Greeting 被确认
	Acked         Type = "request.acked"
	Resubmitted   Type = "request.resubmitted" // ack 超时后重新入队
	HandlerFailed Type = "dispatch.failed"
)

type Event interface {
	Type() Type
	Time() time.Time
}

// ConnectionEvent 连接建立或断开
type ConnectionEvent struct {
	When   time.Time
	Kind   Type // Connected|Disconnected
	Epoch  uint64
	Remote string
	Err    error // 断开原因，可为空
}

func (e *ConnectionEvent) Type() Type      { return e.Kind }
func (e *ConnectionEvent) Time() time.Time { return e.When }

// EnvelopeEvent 与某个已发送信封相关的事件
type EnvelopeEvent struct {
	When    time.Time
	Kind    Type // Greeted|Acked|Resubmitted
	ID      string
	Keyword string
	Elapsed time.Duration // 发送到确认的耗时，仅 Acked/Greeted
}

func (e *EnvelopeEvent) Type() Type      { return e.Kind }
func (e *EnvelopeEvent) Time() time.Time { return e.When }

// FailureEvent 入站请求处理失败
type FailureEvent struct {
	When    time.Time
	ID      string
	Keyword string
	Reason  string
	Err     error
}

func (e *FailureEvent) Type() Type      { return HandlerFailed }
func (e *FailureEvent) Time() time.Time { return e.When }
