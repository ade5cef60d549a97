package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	logx "blackoutd/pkg/logx"
)

// KV is the synchronous fast store. Values are opaque bytes, usually JSON.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Shared is implemented by fast stores that other processes may change.
// Watch reports the keys they changed until ctx is done.
type Shared interface {
	Watch(ctx context.Context, onChange func(keys []string)) error
}

// Log is the durable store shared with the background delivery side.
type Log interface {
	AppendNotification(ctx context.Context, r NotificationRecord) error
	// ListNotifications returns records newest first. limit <= 0 means all.
	ListNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
	ClearNotifications(ctx context.Context) error
	PutSetting(ctx context.Context, key string, value json.RawMessage) error
	GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error)
	Close() error
}

// OpenKV opens the fast store described by cfg.
func OpenKV(cfg Config, log logx.Logger) (KV, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.KVPath) == "" {
		return NewMemoryKV(), nil
	}
	return OpenFileKV(cfg.KVPath, log)
}

// OpenLog initializes the configured durable log.
// A disabled log is returned (not nil) when the driver is empty or "none".
func OpenLog(cfg Config, log logx.Logger) (Log, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return disabledLog{}, nil
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// GetJSON decodes the value at key into out. ok is false when the key is absent.
func GetJSON(kv KV, key string, out any) (bool, error) {
	b, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Set(key, b)
}

type disabledLog struct{}

func (disabledLog) AppendNotification(context.Context, NotificationRecord) error { return ErrDisabled }
func (disabledLog) ListNotifications(context.Context, int) ([]NotificationRecord, error) {
	return nil, ErrDisabled
}
func (disabledLog) ClearNotifications(context.Context) error { return ErrDisabled }
func (disabledLog) PutSetting(context.Context, string, json.RawMessage) error {
	return ErrDisabled
}
func (disabledLog) GetSetting(context.Context, string) (json.RawMessage, bool, error) {
	return nil, false, ErrDisabled
}
func (disabledLog) Close() error { return nil }
