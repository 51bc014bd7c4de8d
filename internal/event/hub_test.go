package event

import (
	"testing"
	"time"
)

func TestSubscribeEmit(t *testing.T) {
	h := NewHub()
	got := make(chan Event, 2)
	h.Subscribe(Connected, func(e Event) { got <- e })
	h.Subscribe(Connected, func(e Event) { panic("subscriber bug") })

	h.Emit(&ConnectionEvent{When: time.Now(), Kind: Connected, Epoch: 3})
	select {
	case e := <-got:
		if ce := e.(*ConnectionEvent); ce.Epoch != 3 {
			t.Fatalf("epoch = %d", ce.Epoch)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	// 其它类型不会投递
	h.Emit(&ConnectionEvent{When: time.Now(), Kind: Disconnected})
	select {
	case e := <-got:
		t.Fatalf("unexpected event %v", e.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeCancelable(t *testing.T) {
	h := NewHub()
	got := make(chan struct{}, 1)
	cancel := h.SubscribeCancelable(Acked, func(Event) { got <- struct{}{} })
	cancel()
	h.Emit(&EnvelopeEvent{Kind: Acked, ID: "1"})
	select {
	case <-got:
		t.Fatal("cancelled handler invoked")
	case <-time.After(50 * time.Millisecond):
	}

	var nilHub *Hub
	nilHub.Emit(&EnvelopeEvent{Kind: Acked})
}
