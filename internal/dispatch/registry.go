// Package dispatch 按关键字把入站请求路由到本地注册的处理器。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hongjun500/agora-go/internal/protocol"
	"go.uber.org/multierr"
)

var (
	ErrDuplicateKeyword = errors.New("dispatch: duplicate keyword")
	ErrEmptyKeyword     = errors.New("dispatch: keyword is empty")
	// ErrPayload 负载无法解码为处理器声明的类型
	ErrPayload = errors.New("dispatch: payload decode failed")
)

// Binding 一个关键字与其处理器
type Binding struct {
	Keyword string
	// Type 处理器参数类型，仅用于展示
	Type   reflect.Type
	invoke func(ctx context.Context, payload string) error
}

// Invoke 解码负载并调用处理器
func (b *Binding) Invoke(ctx context.Context, payload string) error {
	return b.invoke(ctx, payload)
}

type Builder struct {
	codec    protocol.PayloadCodec
	bindings []*Binding
}

// NewBuilder codec 为 nil 时使用 JSON
func NewBuilder(codec protocol.PayloadCodec) *Builder {
	if codec == nil {
		codec = protocol.DefaultPayloadCodec
	}
	return &Builder{codec: codec}
}

// Handle 注册类型化处理器；重复关键字在 Build 时报错
func Handle[T any](b *Builder, keyword string, fn func(ctx context.Context, v T) error) {
	codec := b.codec
	b.bindings = append(b.bindings, &Binding{
		Keyword: strings.TrimSpace(keyword),
		Type:    reflect.TypeOf((*T)(nil)).Elem(),
		invoke: func(ctx context.Context, payload string) error {
			var v T
			if err := codec.Decode(payload, &v); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrPayload, codec.Name(), err)
			}
			return fn(ctx, v)
		},
	})
}

// Registry 构建后不可变，可被多个 worker 并发读取
type Registry struct {
	byKeyword map[string]*Binding
	keywords  []string
}

// Build 汇总所有重复或空关键字错误
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{byKeyword: make(map[string]*Binding, len(b.bindings))}
	var errs error
	for _, bd := range b.bindings {
		if bd.Keyword == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w (type %s)", ErrEmptyKeyword, bd.Type))
			continue
		}
		if prev, exists := r.byKeyword[bd.Keyword]; exists {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q bound to %s and %s", ErrDuplicateKeyword, bd.Keyword, prev.Type, bd.Type))
			continue
		}
		r.byKeyword[bd.Keyword] = bd
		r.keywords = append(r.keywords, bd.Keyword)
	}
	if errs != nil {
		return nil, errs
	}
	sort.Strings(r.keywords)
	return r, nil
}

func (r *Registry) Lookup(keyword string) (*Binding, bool) {
	bd, ok := r.byKeyword[keyword]
	return bd, ok
}

// Keywords 已绑定关键字，按字典序
func (r *Registry) Keywords() []string {
	out := make([]string, len(r.keywords))
	copy(out, r.keywords)
	return out
}

// Describe keyword -> 参数类型，用于启动日志
func (r *Registry) Describe() map[string]string {
	out := make(map[string]string, len(r.byKeyword))
	for k, bd := range r.byKeyword {
		out[k] = bd.Type.String()
	}
	return out
}
