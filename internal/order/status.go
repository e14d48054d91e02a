package order

import (
	"fmt"

	"github.com/vasiliy-maslov/checkout-service/internal/notification"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed:  true,
		StatusProcessing: true,
		StatusCancelled:  true,
		StatusRefunded:   true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusShipped:    true,
		StatusCancelled:  true,
		StatusRefunded:   true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
		StatusRefunded:  true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type notice struct {
	title    string
	template string
	kind     string
}

var statusNotices = map[Status]notice{
	StatusPending:    {"Order Pending", "Your order %s is pending.", notification.TypeInfo},
	StatusConfirmed:  {"Order Confirmed", "Your order %s has been confirmed.", notification.TypeSuccess},
	StatusProcessing: {"Order Processing", "Your order %s is being processed.", notification.TypeInfo},
	StatusShipped:    {"Order Shipped", "Your order %s has been shipped.", notification.TypeSuccess},
	StatusDelivered:  {"Order Delivered", "Your order %s has been delivered.", notification.TypeSuccess},
	StatusCancelled:  {"Order Cancelled", "Your order %s has been cancelled.", notification.TypeWarning},
	StatusRefunded:   {"Order Refunded", "Your order %s has been refunded.", notification.TypeInfo},
}

// StatusNotice returns the title, message and severity shown to the owner of
// an order entering status. It depends on nothing but its arguments.
func StatusNotice(status Status, orderNumber string, trackingNumber *string) (title, message, kind string) {
	n, ok := statusNotices[status]
	if !ok {
		return "Order Updated", fmt.Sprintf("Your order %s status changed to %s.", orderNumber, status), notification.TypeInfo
	}

	message = fmt.Sprintf(n.template, orderNumber)
	if status == StatusShipped && trackingNumber != nil && *trackingNumber != "" {
		message += fmt.Sprintf(" Tracking number: %s.", *trackingNumber)
	}

	return n.title, message, n.kind
}

func placedNotice(orderNumber string) (title, message, kind string) {
	return "Order Placed", fmt.Sprintf("Your order %s has been placed successfully.", orderNumber), notification.TypeSuccess
}
