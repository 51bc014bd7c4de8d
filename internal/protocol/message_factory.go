package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MessageFactory 负责创建各种类型的消息，统一 ID 与时间戳的生成
type MessageFactory struct {
	now func() time.Time
}

// NewMessageFactory 创建消息工厂
func NewMessageFactory() *MessageFactory {
	return &MessageFactory{now: time.Now}
}

// NewMessageFactoryWithClock 使用自定义时间源（测试用）
func NewMessageFactoryWithClock(now func() time.Time) *MessageFactory {
	if now == nil {
		now = time.Now
	}
	return &MessageFactory{now: now}
}

func (f *MessageFactory) base(kind Kind) *Envelope {
	return &Envelope{
		ID:   uuid.New().String(),
		Kind: kind,
		Ts:   f.now().UnixMilli(),
	}
}

// NewGreeting 创建问候消息，每个连接建立后首先发送
func (f *MessageFactory) NewGreeting(sender string) *Envelope {
	e := f.base(KindGreeting)
	e.Sender = sender
	return e
}

// NewHeartbeat 创建心跳消息
func (f *MessageFactory) NewHeartbeat() *Envelope {
	return f.base(KindHeartbeat)
}

// NewRequest 创建请求消息
func (f *MessageFactory) NewRequest(keyword, payload string, targets []string) *Envelope {
	e := f.base(KindRequest)
	e.Keyword = keyword
	e.Payload = payload
	if len(targets) > 0 {
		e.Targets = append([]string(nil), targets...)
	}
	return e
}

// NewAck 创建确认消息
func (f *MessageFactory) NewAck(id string) *Envelope {
	e := f.base(KindAck)
	e.AckID = id
	return e
}

// DefaultFactory 包级默认工厂
var DefaultFactory = NewMessageFactory()
