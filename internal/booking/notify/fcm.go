package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"firebase.google.com/go/messaging"

	"housingBack/internal/booking/lifecycle"
)

// Sender is the part of *messaging.Client the push sink uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// TokenSource resolves device tokens for a user.
type TokenSource interface {
	TokensFor(ctx context.Context, userID int64) ([]string, error)
}

// FCMSink delivers events as Firebase Cloud Messaging pushes.
type FCMSink struct {
	sender Sender
	tokens TokenSource
}

// NewFCMSink constructs a push sink.
func NewFCMSink(sender Sender, tokens TokenSource) *FCMSink {
	return &FCMSink{sender: sender, tokens: tokens}
}

// Name implements Sink.
func (s *FCMSink) Name() string { return "fcm" }

// Deliver sends one push per registered device of every recipient.
func (s *FCMSink) Deliver(ctx context.Context, ev Event) error {
	title, body := Compose(ev)
	if title == "" {
		return nil
	}
	var errs []error
	for _, userID := range ev.Recipients() {
		tokens, err := s.tokens.TokensFor(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tokens for user %d: %w", userID, err))
			continue
		}
		for _, token := range tokens {
			if _, err := s.sender.Send(ctx, pushMessage(token, title, body, ev)); err != nil {
				errs = append(errs, fmt.Errorf("send to user %d: %w", userID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func pushMessage(token, title, body string, ev Event) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"event":      string(ev.Type),
			"booking_id": strconv.FormatInt(ev.Booking.ID, 10),
			"status":     string(ev.Booking.Status),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  body,
					},
					Sound: "default",
				},
			},
		},
	}
}

// Compose renders the human readable title and body for an event.
// Visits and rentals get different completion wording.
func Compose(ev Event) (string, string) {
	id := ev.Booking.ID
	switch ev.Type {
	case lifecycle.EventVisitCompleted:
		return "Viewing completed", fmt.Sprintf("Your viewing for booking #%d is complete. Ready to rent? Book the property from the app.", id)
	case lifecycle.EventRentalCompleted:
		return "Booking completed", fmt.Sprintf("Booking #%d is complete. Enjoy your stay!", id)
	case lifecycle.EventCheckedOut:
		return "Checked out", fmt.Sprintf("You have checked out of booking #%d. Thank you for staying with us.", id)
	case lifecycle.EventRejected:
		return "Booking rejected", fmt.Sprintf("Booking #%d was rejected: %s", id, ev.Booking.OwnerNotes)
	case lifecycle.EventConfirmed:
		return "Booking confirmed", fmt.Sprintf("Booking #%d has been confirmed.", id)
	case lifecycle.EventCancelled:
		return "Booking cancelled", fmt.Sprintf("The renter cancelled booking #%d.", id)
	case lifecycle.EventVisitRequested:
		return "New viewing request", fmt.Sprintf("You have a new viewing request (booking #%d).", id)
	}
	return "", ""
}
