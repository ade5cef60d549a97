package push

import (
	"context"
	"errors"

	"blackoutd/internal/apiclient"
)

// Permission is the platform notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// State is the user-visible push state derived from the three axes kept by
// the manager.
type State string

const (
	StateUnsupported         State = "unsupported"
	StatePermissionDefault   State = "permission_default"
	StatePermissionDenied    State = "permission_denied"
	StateGrantedUnsubscribed State = "granted_unsubscribed"
	StateGrantedSubscribed   State = "granted_subscribed"
)

// BackendRecord is what the manager knows about the backend's copy of the
// local subscription.
type BackendRecord string

const (
	RecordUnknown BackendRecord = "unknown"
	RecordPresent BackendRecord = "present"
	RecordMissing BackendRecord = "missing"
)

// Status is a snapshot of the manager's axes.
type Status struct {
	State      State         `json:"state"`
	Permission Permission    `json:"permission"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Backend    BackendRecord `json:"backend"`
	Queue      string        `json:"queue,omitempty"`
}

func derive(supported bool, perm Permission, subscribed bool) State {
	switch {
	case !supported:
		return StateUnsupported
	case perm == PermissionDenied:
		return StatePermissionDenied
	case perm != PermissionGranted:
		return StatePermissionDefault
	case subscribed:
		return StateGrantedSubscribed
	default:
		return StateGrantedUnsubscribed
	}
}

// Outcome classifies a backend call result.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeTransient Outcome = "transient"
	OutcomeFatal     Outcome = "fatal"
)

// Classify maps a backend error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, apiclient.ErrNotFound) {
		return OutcomeNotFound
	}
	if errors.Is(err, apiclient.ErrRejected) || errors.Is(err, context.Canceled) {
		return OutcomeFatal
	}
	if errors.Is(err, apiclient.ErrServiceUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}
	var se *apiclient.StatusError
	if errors.As(err, &se) {
		if se.Code >= 500 || se.Code == 408 || se.Code == 429 {
			return OutcomeTransient
		}
		return OutcomeFatal
	}
	// Anything else came from the transport layer.
	return OutcomeTransient
}

// Action is the recovery step taken for an outcome.
type Action string

const (
	ActionNone       Action = "none"
	ActionReRegister Action = "re_register"
	ActionRetryOnce  Action = "retry_once"
	ActionLogOnly    Action = "log_only"
)

type op string

const (
	opRegister    op = "register"
	opUpdateQueue op = "update_queue"
	opUnregister  op = "unregister"
)

var recovery = map[op]map[Outcome]Action{
	opRegister: {
		OutcomeOK:        ActionNone,
		OutcomeNotFound:  ActionLogOnly,
		OutcomeTransient: ActionRetryOnce,
		OutcomeFatal:     ActionLogOnly,
	},
	opUpdateQueue: {
		OutcomeOK:        ActionNone,
		OutcomeNotFound:  ActionReRegister,
		OutcomeTransient: ActionRetryOnce,
		OutcomeFatal:     ActionLogOnly,
	},
	opUnregister: {
		OutcomeOK:        ActionNone,
		OutcomeNotFound:  ActionNone,
		OutcomeTransient: ActionLogOnly,
		OutcomeFatal:     ActionLogOnly,
	},
}

// recoveryFor returns the action for outcome o of operation name.
func recoveryFor(name op, o Outcome) Action {
	if a, ok := recovery[name][o]; ok {
		return a
	}
	return ActionLogOnly
}
