package protocol

import (
	"errors"
	"fmt"
)

// Kind 表示信封的种类，接收端据此恢复具体字段
type Kind string

const (
	KindGreeting  Kind = "greeting"
	KindHeartbeat Kind = "heartbeat"
	KindRequest   Kind = "request"
	KindAck       Kind = "ack"
)

// Valid 是否为已知种类
func (k Kind) Valid() bool {
	switch k {
	case KindGreeting, KindHeartbeat, KindRequest, KindAck:
		return true
	}
	return false
}

var (
	ErrMissingID      = errors.New("envelope missing required field 'id'")
	ErrUnknownKind    = errors.New("envelope has unknown kind")
	ErrMissingKeyword = errors.New("request envelope missing keyword")
	ErrMissingAckID   = errors.New("ack envelope missing ack_id")
	ErrMissingSender  = errors.New("greeting envelope missing sender")
)

// Envelope 线路上传输的最小消息单元，一帧恰好承载一个 Envelope
//
// 由 MessageFactory 构造后视为不可变；缓存与查找只按 ID 判断身份。
type Envelope struct {
	// ---- 公共头 ----
	ID   string `json:"id"`   // 发送方生成的全局唯一ID
	Kind Kind   `json:"kind"` // greeting|heartbeat|request|ack
	Ts   int64  `json:"ts"`   // 创建时间，毫秒

	// ---- greeting ----
	Sender string `json:"sender,omitempty"`

	// ---- request ----
	Keyword string   `json:"keyword,omitempty"` // 选择对端处理器
	Payload string   `json:"payload,omitempty"` // 编码后的业务对象
	Targets []string `json:"targets,omitempty"` // 对端扇出使用，本端不解释

	// ---- ack ----
	AckID string `json:"ack_id,omitempty"` // 被确认信封的 ID
}

// Validate 检查各种类的必填字段
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("envelope is nil")
	}
	if e.ID == "" {
		return ErrMissingID
	}
	switch e.Kind {
	case KindHeartbeat:
	case KindGreeting:
		if e.Sender == "" {
			return ErrMissingSender
		}
	case KindRequest:
		if e.Keyword == "" {
			return ErrMissingKeyword
		}
	case KindAck:
		if e.AckID == "" {
			return ErrMissingAckID
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return nil
}

// Tracked 发送后是否需要进入待确认缓存
func (e *Envelope) Tracked() bool {
	return e.Kind == KindRequest || e.Kind == KindGreeting
}

func (e *Envelope) String() string {
	switch e.Kind {
	case KindRequest:
		return fmt.Sprintf("request{id=%s keyword=%s targets=%v}", e.ID, e.Keyword, e.Targets)
	case KindAck:
		return fmt.Sprintf("ack{id=%s ack_id=%s}", e.ID, e.AckID)
	case KindGreeting:
		return fmt.Sprintf("greeting{id=%s sender=%s}", e.ID, e.Sender)
	default:
		return fmt.Sprintf("%s{id=%s}", e.Kind, e.ID)
	}
}
