// Package redisstream 从 Redis Stream 读取出站请求并交给会话发送。
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hongjun500/agora-go/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type Bus struct {
	cli    *redis.Client
	stream string
	group  string
}

// Message 流中一条记录的 data 字段
type Message struct {
	Keyword string          `json:"keyword"`
	Payload json.RawMessage `json:"payload,omitempty"` // 原样作为 Request.Payload
	Targets []string        `json:"targets,omitempty"`
}

func New(addr string, db int, stream, group string) *Bus {
	cli := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return &Bus{cli: cli, stream: stream, group: group}
}

// EnsureGroup 创建消费组，已存在视为成功
func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.cli.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisstream: create group %s/%s: %w", b.stream, b.group, err)
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, m *Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.cli.XAdd(ctx, &redis.XAddArgs{Stream: b.stream, Values: map[string]any{"data": payload}}).Err()
}

func (b *Bus) Close() error { return b.cli.Close() }

type Handler func(ctx context.Context, m *Message) error

// Enqueuer 接收已编码的出站请求，*agora.Session 满足该接口
type Enqueuer interface {
	EnqueueRequest(keyword, encoded string, targets []string) error
}

// ForwardTo 把流中消息转成会话的出站请求
func ForwardTo(e Enqueuer) Handler {
	return func(ctx context.Context, m *Message) error {
		return e.EnqueueRequest(m.Keyword, string(m.Payload), m.Targets)
	}
}

func decode(values map[string]any) (*Message, error) {
	var raw []byte
	switch v := values["data"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return nil, errors.New("redisstream: missing data field")
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("redisstream: bad message: %w", err)
	}
	if strings.TrimSpace(m.Keyword) == "" {
		return nil, errors.New("redisstream: message without keyword")
	}
	return &m, nil
}

// Consume blocks and delivers messages to handler; cancel ctx to stop.
// 处理失败的消息不确认，留在 PEL 中等待人工处理
func (b *Bus) Consume(ctx context.Context, consumer string, handler Handler) error {
	for {
		res, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    100,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// transient errors: back off and continue
			logger.L().Sugar().Warnw("redis_read_error", "stream", b.stream, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, str := range res {
			for _, xmsg := range str.Messages {
				m, err := decode(xmsg.Values)
				if err != nil {
					// 格式错误的消息无法重试，直接确认丢弃
					logger.L().Sugar().Warnw("redis_bad_message", "id", xmsg.ID, "err", err)
					_ = b.cli.XAck(ctx, b.stream, b.group, xmsg.ID).Err()
					continue
				}
				if err := handler(ctx, m); err != nil {
					logger.L().Sugar().Warnw("redis_handler_error", "id", xmsg.ID, "keyword", m.Keyword, "err", err)
					continue
				}
				// Acknowledge
				_ = b.cli.XAck(ctx, b.stream, b.group, xmsg.ID).Err()
			}
		}
	}
}
