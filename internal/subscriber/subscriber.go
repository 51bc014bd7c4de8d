package subscriber

import (
	"github.com/hongjun500/agora-go/internal/event"
	"github.com/hongjun500/agora-go/internal/observe"
	"github.com/hongjun500/agora-go/pkg/logger"
)

// RegisterAll 把所有内置订阅者注册到 Hub。业务可按需拆分不同订阅集。
func RegisterAll(hub *event.Hub) {
	registerConnection(hub)
	registerDelivery(hub)
	registerFailure(hub)
}

func registerConnection(hub *event.Hub) {
	hub.Subscribe(event.Connected, func(e event.Event) {
		ce := e.(*event.ConnectionEvent)
		logger.L().Sugar().Infow("session_connected", "epoch", ce.Epoch, "remote", ce.Remote, "at", ce.When)
	})
	hub.Subscribe(event.Disconnected, func(e event.Event) {
		ce := e.(*event.ConnectionEvent)
		logger.L().Sugar().Infow("session_disconnected", "epoch", ce.Epoch, "cause", ce.Err)
	})
}

func registerDelivery(hub *event.Hub) {
	hub.Subscribe(event.Greeted, func(e event.Event) {
		ee := e.(*event.EnvelopeEvent)
		observe.ObserveAck("greeting", ee.Elapsed.Seconds())
		logger.L().Sugar().Infow("session_greeted", "id", ee.ID, "rtt", ee.Elapsed)
	})
	hub.Subscribe(event.Acked, func(e event.Event) {
		ee := e.(*event.EnvelopeEvent)
		observe.ObserveAck("request", ee.Elapsed.Seconds())
		logger.L().Sugar().Debugw("request_acked", "id", ee.ID, "keyword", ee.Keyword, "rtt", ee.Elapsed)
	})
	hub.Subscribe(event.Resubmitted, func(e event.Event) {
		ee := e.(*event.EnvelopeEvent)
		logger.L().Sugar().Debugw("request_resubmitted", "id", ee.ID, "keyword", ee.Keyword)
	})
}

func registerFailure(hub *event.Hub) {
	hub.Subscribe(event.HandlerFailed, func(e event.Event) {
		fe := e.(*event.FailureEvent)
		logger.L().Sugar().Errorw("handler_failed", "id", fe.ID, "keyword", fe.Keyword, "reason", fe.Reason, "err", fe.Err)
	})
}
