package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "blackoutd/pkg/logx"
)

const watchDebounce = 250 * time.Millisecond

// FileKV is a fast store kept in one JSON object file shared by every
// blackoutd process on the host. Each access re-reads the file when another
// process replaced it; mutations are read-modify-write under an exclusive
// lock on path+".lock" and land atomically (tmp + rename).
type FileKV struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	data    map[string]json.RawMessage
	seen    os.FileInfo
	pending map[string]struct{}
	closed  bool
}

func OpenFileKV(path string, log logx.Logger) (*FileKV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage.kv_path is required for file store")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &FileKV{log: log, path: path, data: map[string]json.RawMessage{}, pending: map[string]struct{}{}}
	s.mu.Lock()
	s.refreshLocked()
	clear(s.pending)
	s.mu.Unlock()
	return s, nil
}

func (s *FileKV) Path() string { return s.path }

func (s *FileKV) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	s.refreshLocked()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *FileKV) Set(key string, value []byte) error {
	if !json.Valid(value) {
		// Store non-JSON values as JSON strings so the snapshot stays parseable.
		b, err := json.Marshal(string(value))
		if err != nil {
			return err
		}
		value = b
	}
	return s.mutate(func(data map[string]json.RawMessage) bool {
		data[key] = append(json.RawMessage(nil), value...)
		return true
	})
}

func (s *FileKV) Delete(key string) error {
	return s.mutate(func(data map[string]json.RawMessage) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
}

func (s *FileKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// mutate applies fn to the on-disk state and writes it back when fn
// reports a change.
func (s *FileKV) mutate(fn func(map[string]json.RawMessage) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer unlock()

	s.refreshLocked()
	if !fn(s.data) {
		return nil
	}
	return s.flushLocked()
}

// refreshLocked reloads the snapshot when the file differs from the one last
// read or written here. Keys whose value changed are queued for Watch.
func (s *FileKV) refreshLocked() {
	fi, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("fast store stat failed", logx.String("path", s.path), logx.Err(err))
			return
		}
		if s.seen != nil {
			s.replaceLocked(map[string]json.RawMessage{})
			s.seen = nil
		}
		return
	}
	if sameFile(s.seen, fi) {
		return
	}
	next := map[string]json.RawMessage{}
	if err := loadSnapshot(s.path, next); err != nil {
		// A corrupt file must not block startup; the next write replaces it.
		s.log.Warn("fast store snapshot unreadable, keeping last state", logx.String("path", s.path), logx.Err(err))
		s.seen = fi
		return
	}
	s.replaceLocked(next)
	s.seen = fi
}

func (s *FileKV) replaceLocked(next map[string]json.RawMessage) {
	for k, v := range next {
		if old, ok := s.data[k]; !ok || !bytes.Equal(old, v) {
			s.pending[k] = struct{}{}
		}
	}
	for k := range s.data {
		if _, ok := next[k]; !ok {
			s.pending[k] = struct{}{}
		}
	}
	s.data = next
}

func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return false
	}
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

// Watch follows the file and calls onChange with the keys another process
// changed. It blocks until ctx is done or the watcher fails.
func (s *FileKV) Watch(ctx context.Context, onChange func(keys []string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// The file is replaced on every write, so watch its directory.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	name := filepath.Clean(s.path)
	// Report what changed between open and the watch taking effect.
	if keys := s.Changes(); len(keys) > 0 {
		onChange(keys)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fast store watcher closed")
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("fast store watcher closed")
			}
			return fmt.Errorf("watch %s: %w", s.path, err)
		case <-fire:
			fire = nil
			if keys := s.Changes(); len(keys) > 0 {
				onChange(keys)
			}
		}
	}
}

// Changes refreshes the snapshot and returns the keys other processes
// changed since the previous call, sorted.
func (s *FileKV) Changes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.refreshLocked()
	if len(s.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	clear(s.pending)
	sort.Strings(keys)
	return keys
}

func (s *FileKV) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.seen = fi
	} else {
		s.seen = nil
	}
	return nil
}

func loadSnapshot(path string, out map[string]json.RawMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// MemoryKV is an in-process KV, used when no path is configured and in tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte

	// FailWrites makes Set and Delete return the error. Tests only.
	FailWrites error
}

func NewMemoryKV() *MemoryKV { return &MemoryKV{data: map[string][]byte{}} }

func (m *MemoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Close() error { return nil }
