package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/internal/consumer"
	"github.com/observashop/notification-service/pkg/events"
)

const channelEmail = "email"

// handlerDeps is shared by every event handler: persist first, deliver,
// then record the outcome.
type handlerDeps struct {
	store     Store
	transport Transport
	log       *zap.Logger
}

// deliver runs the common notification lifecycle. A store or transport
// failure is returned as-is and treated as transient by the caller.
func (d handlerDeps) deliver(ctx context.Context, envelope events.Envelope, userID, recipient, subject, body string) error {
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Recipient: recipient,
		Channel:   channelEmail,
		Subject:   subject,
		Content:   body,
		Status:    StatusPending,
		EventID:   envelope.EventID,
		EventType: envelope.EventType,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.store.Create(ctx, n); err != nil {
		return fmt.Errorf("create notification record: %w", err)
	}

	if err := d.transport.Deliver(ctx, recipient, subject, body); err != nil {
		if markErr := d.store.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
			d.log.Warn("failed to mark notification as failed",
				zap.String("notification_id", n.ID), zap.Error(markErr))
		}
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}

	// The email is out. A failed status update is logged, not retried,
	// because a retry would send the email again.
	if err := d.store.MarkSent(ctx, n.ID, time.Now().UTC()); err != nil {
		d.log.Warn("failed to mark notification as sent",
			zap.String("notification_id", n.ID), zap.Error(err))
	}

	d.log.Info("notification sent",
		zap.String("notification_id", n.ID),
		zap.String("event_id", envelope.EventID),
		zap.String("event_type", envelope.EventType),
		zap.String("recipient", recipient))
	return nil
}

// payloadAs recovers the schema-typed payload the dispatcher decoded.
// A mismatch means a handler is registered under the wrong event type.
func payloadAs[T any](payload any) (T, error) {
	v, ok := payload.(T)
	if !ok {
		var zero T
		return zero, consumer.Permanent(fmt.Errorf("unexpected payload type %T", payload))
	}
	return v, nil
}

type userCreatedHandler struct{ handlerDeps }

func newUserCreatedHandler(store Store, transport Transport, log *zap.Logger) *userCreatedHandler {
	return &userCreatedHandler{handlerDeps{store: store, transport: transport, log: log}}
}

func (h *userCreatedHandler) EventType() string { return events.TypeUserCreated }

func (h *userCreatedHandler) Handle(ctx context.Context, envelope events.Envelope, payload any) error {
	user, err := payloadAs[events.UserCreated](payload)
	if err != nil {
		return err
	}

	name := user.Email
	if user.Username != nil && *user.Username != "" {
		name = *user.Username
	}
	subject := "Welcome to ObservaShop!"
	body := fmt.Sprintf("Hi %s,\n\nYour account has been created. Happy shopping!\n", name)
	return h.deliver(ctx, envelope, user.UserID, user.Email, subject, body)
}

type orderCreatedHandler struct{ handlerDeps }

func newOrderCreatedHandler(store Store, transport Transport, log *zap.Logger) *orderCreatedHandler {
	return &orderCreatedHandler{handlerDeps{store: store, transport: transport, log: log}}
}

func (h *orderCreatedHandler) EventType() string { return events.TypeOrderCreated }

func (h *orderCreatedHandler) Handle(ctx context.Context, envelope events.Envelope, payload any) error {
	order, err := payloadAs[events.OrderCreated](payload)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Order Confirmation %s", order.OrderID)
	body := fmt.Sprintf("Thank you for your order!\n\nOrder %s has been placed for a total of %.2f.\n", order.OrderID, order.Total)
	return h.deliver(ctx, envelope, order.UserID, order.Email, subject, body)
}

type paymentFailedHandler struct{ handlerDeps }

func newPaymentFailedHandler(store Store, transport Transport, log *zap.Logger) *paymentFailedHandler {
	return &paymentFailedHandler{handlerDeps{store: store, transport: transport, log: log}}
}

func (h *paymentFailedHandler) EventType() string { return events.TypePaymentFailed }

func (h *paymentFailedHandler) Handle(ctx context.Context, envelope events.Envelope, payload any) error {
	payment, err := payloadAs[events.PaymentFailed](payload)
	if err != nil {
		return err
	}

	reason := "the payment could not be processed"
	if payment.Reason != nil && *payment.Reason != "" {
		reason = *payment.Reason
	}
	subject := fmt.Sprintf("Payment Failed for Order %s", payment.OrderID)
	body := fmt.Sprintf("We could not charge your payment method for order %s: %s.\n\nPlease update your payment details and try again.\n", payment.OrderID, reason)
	return h.deliver(ctx, envelope, payment.UserID, payment.Email, subject, body)
}

type productBackInStockHandler struct{ handlerDeps }

func newProductBackInStockHandler(store Store, transport Transport, log *zap.Logger) *productBackInStockHandler {
	return &productBackInStockHandler{handlerDeps{store: store, transport: transport, log: log}}
}

func (h *productBackInStockHandler) EventType() string { return events.TypeProductBackInStock }

func (h *productBackInStockHandler) Handle(ctx context.Context, envelope events.Envelope, payload any) error {
	product, err := payloadAs[events.ProductBackInStock](payload)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Back in Stock: %s", product.ProductName)
	body := fmt.Sprintf("Good news!\n\n%s is available again. Order now before it runs out.\n", product.ProductName)
	return h.deliver(ctx, envelope, product.UserID, product.Email, subject, body)
}
