package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"github.com/charmbracelet/huh"

	"blackoutd/internal/push"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

func TestPermissionsPromptOnce(t *testing.T) {
	kv := storage.NewMemoryKV()
	calls := 0
	p := NewPermissions(kv, func(context.Context) (bool, error) { calls++; return true, nil }, "", logx.Nop())

	if got := p.Current(); got != push.PermissionDefault {
		t.Fatalf("initial=%s", got)
	}
	for i := 0; i < 2; i++ {
		got, err := p.Request(context.Background())
		if err != nil || got != push.PermissionGranted {
			t.Fatalf("request=%s err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("prompted %d times", calls)
	}

	// A fresh store on the same kv sees the decision.
	if got := NewPermissions(kv, nil, "", logx.Nop()).Current(); got != push.PermissionGranted {
		t.Fatalf("reloaded=%s", got)
	}
}

func TestPermissionsDeniedAndDismissed(t *testing.T) {
	kv := storage.NewMemoryKV()
	p := NewPermissions(kv, func(context.Context) (bool, error) { return false, huh.ErrUserAborted }, "", logx.Nop())
	got, err := p.Request(context.Background())
	if err != nil || got != push.PermissionDefault {
		t.Fatalf("dismissed=%s err=%v", got, err)
	}

	p = NewPermissions(kv, func(context.Context) (bool, error) { return false, nil }, "", logx.Nop())
	if got, _ := p.Request(context.Background()); got != push.PermissionDenied {
		t.Fatalf("denied=%s", got)
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := p.Current(); got != push.PermissionDefault {
		t.Fatalf("after reset=%s", got)
	}
}

func TestPermissionsNonInteractiveFallback(t *testing.T) {
	p := NewPermissions(storage.NewMemoryKV(), nil, push.PermissionGranted, logx.Nop())
	if got, _ := p.Request(context.Background()); got != push.PermissionGranted {
		t.Fatalf("fallback=%s", got)
	}
	p = NewPermissions(storage.NewMemoryKV(), nil, "", logx.Nop())
	if got, _ := p.Request(context.Background()); got != push.PermissionDefault {
		t.Fatalf("no fallback=%s", got)
	}
}

func newLocal(t *testing.T) (*LocalPushManager, keyring.Keyring, storage.KV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	ring := keyring.NewArrayKeyring(nil)
	m, err := NewLocalPushManager(kv, ring, "https://ntfy.example/up/", logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return m, ring, kv
}

func TestLocalPushSubscribeReusesExisting(t *testing.T) {
	m, ring, _ := newLocal(t)
	ctx := context.Background()

	if sub, err := m.Subscription(ctx); err != nil || sub != nil {
		t.Fatalf("sub=%v err=%v", sub, err)
	}
	a, err := m.Subscribe(ctx, "vapid")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !strings.HasPrefix(a.Endpoint, "https://ntfy.example/up/") {
		t.Fatalf("endpoint=%s", a.Endpoint)
	}
	pub, err := base64.RawURLEncoding.DecodeString(a.Keys.P256dh)
	if err != nil || len(pub) != 65 {
		t.Fatalf("p256dh len=%d err=%v", len(pub), err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(a.Keys.Auth)
	if err != nil || len(auth) != authSecretLen {
		t.Fatalf("auth len=%d err=%v", len(auth), err)
	}

	item, err := ring.Get(itemKey(a.Endpoint))
	if err != nil {
		t.Fatalf("key not in keyring: %v", err)
	}
	var km keyMaterial
	if err := json.Unmarshal(item.Data, &km); err != nil || len(km.PrivateKey) != 32 {
		t.Fatalf("key material=%+v err=%v", km, err)
	}

	b, err := m.Subscribe(ctx, "vapid")
	if err != nil || b.Endpoint != a.Endpoint {
		t.Fatalf("second subscribe endpoint=%v err=%v", b, err)
	}
}

func TestLocalPushUnsubscribe(t *testing.T) {
	m, ring, kv := newLocal(t)
	ctx := context.Background()
	sub, _ := m.Subscribe(ctx, "vapid")

	if err := m.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, err := ring.Get(itemKey(sub.Endpoint)); !errors.Is(err, keyring.ErrKeyNotFound) {
		t.Fatalf("key still present: %v", err)
	}
	if _, ok, _ := kv.Get(storage.KeyPushSubscription); ok {
		t.Fatalf("subscription record still present")
	}
	if err := m.Unsubscribe(ctx); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func TestLocalPushDropsRecordWithoutKey(t *testing.T) {
	m, ring, _ := newLocal(t)
	ctx := context.Background()
	sub, _ := m.Subscribe(ctx, "vapid")
	_ = ring.Remove(itemKey(sub.Endpoint))

	got, err := m.Subscription(ctx)
	if err != nil || got != nil {
		t.Fatalf("got=%v err=%v", got, err)
	}
}
