package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event types the notification pipeline consumes. Each one doubles as
// the topic the event is published on.
const (
	TypeUserCreated        = "user.created"
	TypeOrderCreated       = "order.created"
	TypePaymentFailed      = "payment.failed"
	TypeProductBackInStock = "product.back_in_stock"
)

type UserCreated struct {
	UserID   string  `json:"user_id"`
	Email    string  `json:"email"`
	Username *string `json:"username,omitempty"`
}

type OrderCreated struct {
	UserID  string  `json:"user_id"`
	Email   string  `json:"email"`
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
}

type PaymentFailed struct {
	UserID  string  `json:"user_id"`
	Email   string  `json:"email"`
	OrderID string  `json:"order_id"`
	Reason  *string `json:"reason,omitempty"`
}

type ProductBackInStock struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
}

func (p UserCreated) validate() error {
	if err := requireUUID("user_id", p.UserID); err != nil {
		return err
	}
	return requireField("email", p.Email)
}

func (p OrderCreated) validate() error {
	if err := requireUUID("user_id", p.UserID); err != nil {
		return err
	}
	if err := requireField("email", p.Email); err != nil {
		return err
	}
	return requireField("order_id", p.OrderID)
}

func (p PaymentFailed) validate() error {
	if err := requireUUID("user_id", p.UserID); err != nil {
		return err
	}
	if err := requireField("email", p.Email); err != nil {
		return err
	}
	return requireField("order_id", p.OrderID)
}

func (p ProductBackInStock) validate() error {
	if err := requireUUID("user_id", p.UserID); err != nil {
		return err
	}
	if err := requireField("email", p.Email); err != nil {
		return err
	}
	if err := requireField("product_id", p.ProductID); err != nil {
		return err
	}
	return requireField("product_name", p.ProductName)
}

// DecodePayload applies the type-specific schema to the envelope data.
// An unrecognized event type is reported as ErrUnknownEventType so the
// caller can tell it apart from a schema mismatch.
func DecodePayload(e Envelope) (any, error) {
	switch e.EventType {
	case TypeUserCreated:
		return decodeAs[UserCreated](e)
	case TypeOrderCreated:
		return decodeAs[OrderCreated](e)
	case TypePaymentFailed:
		return decodeAs[PaymentFailed](e)
	case TypeProductBackInStock:
		return decodeAs[ProductBackInStock](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
}

type validatable interface {
	validate() error
}

func decodeAs[T validatable](e Envelope) (T, error) {
	var payload T
	if len(e.Data) == 0 {
		return payload, fmt.Errorf("%w: missing data", ErrValidation)
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return payload, fmt.Errorf("%w: decode %s data: %v", ErrValidation, e.EventType, err)
	}
	if err := payload.validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", ErrValidation, name)
	}
	return nil
}

func requireUUID(name, value string) error {
	if err := requireField(name, value); err != nil {
		return err
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: %s is not a UUID: %v", ErrValidation, name, err)
	}
	return nil
}
