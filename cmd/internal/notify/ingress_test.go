package notify

import (
	"context"
	"testing"

	v1 "herald/shared/contracts/notify/v1"
)

func newTestIngress(t *testing.T, d *Dispatcher) *Ingress {
	t.Helper()
	return NewIngress(testLogger(), nil, d)
}

func TestIngress_HandleBurnEvent(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	d := newTestDispatcher(t, reg, nil, nil)
	ing := newTestIngress(t, d)
	now := testNow()

	a, _ := reg.Register("walletA", now)

	ing.Handle(context.Background(), IngressChannelBurn, []byte(`{"wallet":"walletA","amount":25,"signature":"sig"}`))

	n := recvNotification(t, a)
	if n.Kind != v1.KindBurn {
		t.Fatalf("unexpected kind: %s", n.Kind)
	}
}

func TestIngress_HandleAchievementEvent(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	d := newTestDispatcher(t, reg, nil, nil)
	ing := newTestIngress(t, d)
	now := testNow()

	a, _ := reg.Register("walletA", now)

	ing.Handle(context.Background(), IngressChannelAchievement,
		[]byte(`{"wallet":"walletA","achievement":{"id":"streak-7","name":"Week Streak","xp":250}}`))

	n := recvNotification(t, a)
	if n.Kind != v1.KindAchievement {
		t.Fatalf("unexpected kind: %s", n.Kind)
	}
}

func TestIngress_HandleAnnouncement(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	d := newTestDispatcher(t, reg, nil, nil)
	ing := newTestIngress(t, d)
	now := testNow()

	anon, _ := reg.Register("", now)

	ing.Handle(context.Background(), IngressChannelAnnouncement, []byte(`{"title":"downtime","message":"5 min"}`))

	n := recvNotification(t, anon)
	if n.Kind != v1.KindAnnouncement {
		t.Fatalf("unexpected kind: %s", n.Kind)
	}
}

func TestIngress_MalformedPayloadDropped(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	d := newTestDispatcher(t, reg, nil, nil)
	ing := newTestIngress(t, d)
	now := testNow()

	a, _ := reg.Register("walletA", now)

	ing.Handle(context.Background(), IngressChannelBurn, []byte(`{not json`))
	ing.Handle(context.Background(), "herald:events:unknown", []byte(`{}`))

	expectNoFrame(t, a)
}
