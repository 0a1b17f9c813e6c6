package session

import (
	"errors"
	"fmt"
	"net/http"

	"restaurant-pos/internal/orderapi"
)

// ErrorKind classifies session failures for the caller
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindConflict
	KindPaymentRequired
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPaymentRequired:
		return "payment_required"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Message keys the waiter UI localizes
const (
	MsgInvalidShortCode     = "errors.invalidShortCode"
	MsgCustomerNotFound     = "errors.customerNotFound"
	MsgNoCustomer           = "errors.noCustomer"
	MsgPromoCodeRequired    = "errors.promoCodeRequired"
	MsgPromoNotFound        = "errors.promoNotFound"
	MsgPromoExpired         = "errors.promoExpired"
	MsgPromoMinAmount       = "errors.promoMinAmount"
	MsgInvalidPoints        = "errors.invalidPoints"
	MsgPointsUnavailable    = "errors.pointsUnavailable"
	MsgOrderNotEditable     = "errors.orderNotEditable"
	MsgOrderNotLoaded       = "errors.orderNotLoaded"
	MsgOrderNotFound        = "errors.orderNotFound"
	MsgTransitionNotAllowed = "errors.transitionNotAllowed"
	MsgNotDeliveryOrder     = "errors.notDeliveryOrder"
	MsgPaymentRequired      = "errors.paymentRequired"
	MsgInvalidQuantity      = "errors.invalidQuantity"
	MsgProductRequired      = "errors.productRequired"
	MsgItemNotFound         = "errors.itemNotFound"
	MsgItemNotEditable      = "errors.itemNotEditable"
	MsgItemAlreadyRefunded  = "errors.itemAlreadyRefunded"
	MsgRefundNotAllowed     = "errors.refundNotAllowed"
	MsgRefundReasonRequired = "errors.refundReasonRequired"
	MsgConfirmIncomplete    = "errors.confirmIncomplete"
	MsgAddItemFailed        = "errors.addItemFailed"
	MsgRequestFailed        = "errors.requestFailed"
	MsgServiceUnavailable   = "errors.serviceUnavailable"
)

// Error is returned by every failing session operation
type Error struct {
	Kind   ErrorKind
	Key    string
	Params map[string]interface{}
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Key, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, key string, params map[string]interface{}) *Error {
	return &Error{Kind: kind, Key: key, Params: params}
}

// classify turns an order service failure into a session error. notFoundKey
// names the message used when the service answers 404.
func classify(err error, notFoundKey string) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var status *orderapi.StatusError
	switch {
	case errors.Is(err, orderapi.ErrNotFound):
		if notFoundKey == "" {
			notFoundKey = MsgOrderNotFound
		}
		return &Error{Kind: KindNotFound, Key: notFoundKey, Err: err}
	case errors.Is(err, orderapi.ErrConflict):
		return &Error{Kind: KindConflict, Key: MsgOrderNotEditable, Err: err}
	case errors.Is(err, orderapi.ErrUnavailable):
		return &Error{Kind: KindUnavailable, Key: MsgServiceUnavailable, Err: err}
	case errors.As(err, &status) && status.StatusCode < http.StatusInternalServerError:
		return &Error{Kind: KindValidation, Key: MsgRequestFailed, Params: map[string]interface{}{"message": status.Message}, Err: err}
	default:
		return &Error{Kind: KindUnavailable, Key: MsgRequestFailed, Err: err}
	}
}

// KindOf returns the kind of a session error, or 0 for foreign errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
