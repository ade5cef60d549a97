package platform

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/99designs/keyring"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

const (
	keyringService = "blackoutd"
	authSecretLen  = 16
	keyItemPrefix  = "push-key:"
)

// KeyringConfig selects where push private keys are kept.
type KeyringConfig struct {
	FileDir      string
	FilePassword string
	// FileOnly restricts storage to the encrypted file backend, for hosts
	// without a desktop secret service.
	FileOnly bool
}

// OpenKeyring opens the OS keyring with a file fallback.
func OpenKeyring(cfg KeyringConfig) (keyring.Keyring, error) {
	dir := strings.TrimSpace(cfg.FileDir)
	if dir == "" {
		dir = "~/.config/blackoutd/keys"
	}
	pass := cfg.FilePassword
	if pass == "" {
		pass = "blackoutd-file-key"
	}
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.FileOnly {
		backends = []keyring.BackendType{keyring.FileBackend}
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringService,
		AllowedBackends:          backends,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(pass),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// localRecord is the public half kept in the fast store.
type localRecord struct {
	Subscription webpush.Subscription `json:"subscription"`
	ServerKey    string               `json:"serverKey,omitempty"`
	CreatedAt    int64                `json:"createdAt"`
}

// keyMaterial is the private half kept in the keyring.
type keyMaterial struct {
	PrivateKey []byte `json:"privateKey"`
	Auth       []byte `json:"auth"`
}

// LocalPushManager holds a single push subscription whose endpoint lives at
// a push distributor and whose message keys are generated locally.
type LocalPushManager struct {
	kv       storage.KV
	ring     keyring.Keyring
	endpoint string
	log      logx.Logger
	rand     io.Reader
	now      func() time.Time

	mu sync.Mutex
}

// NewLocalPushManager returns a manager whose endpoints are
// distributorURL + "/" + token.
func NewLocalPushManager(kv storage.KV, ring keyring.Keyring, distributorURL string, log logx.Logger) (*LocalPushManager, error) {
	base := strings.TrimRight(strings.TrimSpace(distributorURL), "/")
	if base == "" {
		return nil, errors.New("push distributor url is empty")
	}
	if ring == nil {
		return nil, errors.New("keyring is nil")
	}
	return &LocalPushManager{
		kv:       kv,
		ring:     ring,
		endpoint: base,
		log:      log.With(logx.String("comp", "localpush")),
		rand:     rand.Reader,
		now:      time.Now,
	}, nil
}

func itemKey(endpoint string) string {
	i := strings.LastIndex(endpoint, "/")
	return keyItemPrefix + endpoint[i+1:]
}

// Subscription returns the stored subscription. A record whose private key
// is gone from the keyring is discarded.
func (m *LocalPushManager) Subscription(_ context.Context) (*webpush.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok, err := m.recordLocked()
	if err != nil || !ok {
		return nil, err
	}
	if _, err := m.ring.Get(itemKey(rec.Subscription.Endpoint)); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			m.log.Warn("push key missing from keyring, dropping subscription", logx.String("endpoint", rec.Subscription.Endpoint))
			_ = m.kv.Delete(storage.KeyPushSubscription)
			return nil, nil
		}
		return nil, fmt.Errorf("reading push key: %w", err)
	}
	sub := rec.Subscription
	return &sub, nil
}

func (m *LocalPushManager) recordLocked() (localRecord, bool, error) {
	var rec localRecord
	ok, err := storage.GetJSON(m.kv, storage.KeyPushSubscription, &rec)
	if err != nil {
		return rec, false, fmt.Errorf("reading push subscription: %w", err)
	}
	return rec, ok && rec.Subscription.Endpoint != "", nil
}

// Subscribe creates a subscription, or returns the existing one.
func (m *LocalPushManager) Subscribe(ctx context.Context, applicationServerKey string) (*webpush.Subscription, error) {
	if existing, err := m.Subscription(ctx); err != nil || existing != nil {
		return existing, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	priv, err := ecdh.P256().GenerateKey(m.rand)
	if err != nil {
		return nil, fmt.Errorf("generate push key: %w", err)
	}
	auth := make([]byte, authSecretLen)
	if _, err := io.ReadFull(m.rand, auth); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}

	sub := webpush.Subscription{
		Endpoint: m.endpoint + "/" + uuid.NewString(),
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	secret, err := json.Marshal(keyMaterial{PrivateKey: priv.Bytes(), Auth: auth})
	if err != nil {
		return nil, err
	}
	if err := m.ring.Set(keyring.Item{Key: itemKey(sub.Endpoint), Data: secret, Label: "blackoutd push key"}); err != nil {
		return nil, fmt.Errorf("storing push key: %w", err)
	}
	rec := localRecord{Subscription: sub, ServerKey: applicationServerKey, CreatedAt: m.now().UnixMilli()}
	if err := storage.SetJSON(m.kv, storage.KeyPushSubscription, rec); err != nil {
		_ = m.ring.Remove(itemKey(sub.Endpoint))
		return nil, fmt.Errorf("storing push subscription: %w", err)
	}
	m.log.Info("push subscription created", logx.String("endpoint", sub.Endpoint))
	return &sub, nil
}

// Unsubscribe removes the subscription and its key material.
func (m *LocalPushManager) Unsubscribe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok, err := m.recordLocked()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := m.ring.Remove(itemKey(rec.Subscription.Endpoint)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing push key: %w", err)
	}
	return m.kv.Delete(storage.KeyPushSubscription)
}
