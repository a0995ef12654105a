package notify

import (
	"time"

	"github.com/giftflare/orderflow/internal/profile"
)

// Template identifiers understood by the email and SMS providers.
const (
	TemplateOrderConfirmation    = "order_confirmation"
	TemplateOrderConfirmationSMS = "order_confirmation_sms"
	TemplateShippingUpdate       = "shipping_update"
	TemplateShippingUpdateSMS    = "shipping_update_sms"
	TemplateInstantArrivingSMS   = "instant_delivery_update_sms"
	TemplateDeliveryConfirmation = "delivery_confirmation"
	TemplateDeliveredSMS         = "delivery_confirmation_sms"
	TemplateOrderCancelled       = "order_cancelled"
	TemplateOrderCancelledSMS    = "order_cancelled_sms"
)

// OrderInfo is the slice of an order the dispatcher needs. Keeping it local
// avoids coupling this package to the order aggregate.
type OrderInfo struct {
	ID                string
	BuyerID           string
	TotalAmount       int64
	TrackingNumber    string
	EstimatedDelivery *time.Time
	// Instant marks expedited courier fulfilment; it selects the
	// "arriving soon" SMS variant for shipped orders.
	Instant bool
	// Phone is the delivery-address contact number. Empty disables SMS.
	Phone string
}

// MessagesFor resolves the outbound messages for an order event. Email goes
// to the account profile address; SMS goes to the delivery-address phone and
// is omitted when that phone is empty.
func MessagesFor(o OrderInfo, ev Event, prof *profile.Profile) []Message {
	payload := map[string]any{
		"order_id":     o.ID,
		"total_amount": o.TotalAmount,
	}
	if prof != nil && prof.Name != "" {
		payload["name"] = prof.Name
	}
	if o.TrackingNumber != "" {
		payload["tracking_number"] = o.TrackingNumber
	}
	if o.EstimatedDelivery != nil {
		payload["estimated_delivery"] = o.EstimatedDelivery.UTC().Format(time.RFC3339)
	}

	var emailTpl, smsTpl string
	switch ev {
	case EventConfirmed:
		emailTpl, smsTpl = TemplateOrderConfirmation, TemplateOrderConfirmationSMS
	case EventShipped:
		emailTpl = TemplateShippingUpdate
		if o.Instant {
			smsTpl = TemplateInstantArrivingSMS
		} else {
			smsTpl = TemplateShippingUpdateSMS
		}
	case EventDelivered:
		emailTpl, smsTpl = TemplateDeliveryConfirmation, TemplateDeliveredSMS
	case EventCancelled:
		emailTpl, smsTpl = TemplateOrderCancelled, TemplateOrderCancelledSMS
	default:
		return nil
	}

	msgs := make([]Message, 0, 2)
	if prof != nil && prof.Email != "" {
		msgs = append(msgs, Message{
			Channel:  ChannelEmail,
			To:       prof.Email,
			Template: emailTpl,
			Payload:  payload,
			OrderID:  o.ID,
		})
	}
	if o.Phone != "" {
		msgs = append(msgs, Message{
			Channel:  ChannelSMS,
			To:       o.Phone,
			Template: smsTpl,
			Payload:  payload,
			OrderID:  o.ID,
		})
	}
	return msgs
}
