package session

import "time"

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
	ToastInfo    ToastLevel = "info"
)

const maxToasts = 20

// Toast is a message for the waiter about work nobody was waiting on
type Toast struct {
	Level  ToastLevel             `json:"level"`
	Key    string                 `json:"key"`
	Params map[string]interface{} `json:"params,omitempty"`
	At     time.Time              `json:"at"`
}

// Notifier receives toasts as they are raised, in addition to the session inbox
type Notifier interface {
	Notify(orderID string, toast Toast)
}

type NotifierFunc func(orderID string, toast Toast)

func (f NotifierFunc) Notify(orderID string, toast Toast) {
	f(orderID, toast)
}
