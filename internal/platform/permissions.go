package platform

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/huh"

	"blackoutd/internal/push"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

// Prompter asks the user to allow notifications.
type Prompter func(ctx context.Context) (allow bool, err error)

// HuhPrompter shows a confirm dialog on the terminal.
func HuhPrompter(title, description string, in io.Reader, out io.Writer) Prompter {
	return func(ctx context.Context) (bool, error) {
		allow := true
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(title).
					Description(description).
					Affirmative("Allow").
					Negative("Block").
					Value(&allow),
			),
		)
		if in != nil {
			form = form.WithInput(in)
		}
		if out != nil {
			form = form.WithOutput(out)
		}
		if err := form.RunWithContext(ctx); err != nil {
			return false, err
		}
		return allow, nil
	}
}

// Permissions keeps the notification permission in the fast store.
type Permissions struct {
	kv     storage.KV
	prompt Prompter
	// fallback is the answer used when no prompter is available.
	fallback push.Permission
	log      logx.Logger

	mu sync.Mutex
}

// NewPermissions returns a permission store. With a nil prompt, Request
// answers fallback (PermissionDefault when empty).
func NewPermissions(kv storage.KV, prompt Prompter, fallback push.Permission, log logx.Logger) *Permissions {
	if fallback == "" {
		fallback = push.PermissionDefault
	}
	return &Permissions{kv: kv, prompt: prompt, fallback: fallback, log: log.With(logx.String("comp", "permissions"))}
}

func (p *Permissions) Supported() bool { return p.kv != nil }

func (p *Permissions) Current() push.Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Permissions) currentLocked() push.Permission {
	var v string
	ok, err := storage.GetJSON(p.kv, storage.KeyPermission, &v)
	if err != nil || !ok {
		return push.PermissionDefault
	}
	switch push.Permission(v) {
	case push.PermissionGranted, push.PermissionDenied:
		return push.Permission(v)
	}
	return push.PermissionDefault
}

// Request prompts once. A decided permission is returned without prompting;
// a dismissed prompt leaves the permission at default.
func (p *Permissions) Request(ctx context.Context) (push.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur := p.currentLocked(); cur != push.PermissionDefault {
		return cur, nil
	}

	res := p.fallback
	if p.prompt != nil {
		allow, err := p.prompt(ctx)
		switch {
		case errors.Is(err, huh.ErrUserAborted):
			return push.PermissionDefault, nil
		case err != nil:
			return push.PermissionDefault, err
		case allow:
			res = push.PermissionGranted
		default:
			res = push.PermissionDenied
		}
	}
	if res == push.PermissionDefault {
		return res, nil
	}
	if err := storage.SetJSON(p.kv, storage.KeyPermission, string(res)); err != nil {
		p.log.Warn("persist permission failed", logx.Err(err))
	}
	p.log.Info("notification permission decided", logx.String("permission", string(res)))
	return res, nil
}

// Reset forgets the decision so the next Request prompts again.
func (p *Permissions) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kv.Delete(storage.KeyPermission)
}
