package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"

	"ms-payouts/internal/logger"
	"ms-payouts/internal/metrics"
	"ms-payouts/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const bookingSubject = "Your Event Booking Confirmation"

var bookingTemplate = template.Must(template.New("booking").Parse(`<h1>Booking Confirmation</h1>
<p>Dear {{if .BuyerName}}{{.BuyerName}}{{else}}Customer{{end}},</p>
<p>Thank you for your booking. Here are your booking details:</p>
<ul>
  <li><strong>Event:</strong> {{if .EventName}}{{.EventName}} ({{.EventID}}){{else}}{{.EventID}}{{end}}</li>
  <li><strong>Amount:</strong> ${{.Amount}}</li>
  <li><strong>Tickets:</strong> {{.TicketCount}}</li>
  <li><strong>Status:</strong> Pending</li>
</ul>
<p>You can view your ticket here: <a href="{{.TicketURL}}">{{.TicketURL}}</a></p>
<p>Best regards,<br>Evently</p>
`))

type bookingView struct {
	BuyerName   string
	EventID     string
	EventName   string
	Amount      string
	TicketCount int
	TicketURL   string
}

// RenderBooking builds the confirmation email for n.
func RenderBooking(n models.BookingNotification, ticketURLBase string) (Email, error) {
	view := bookingView{
		BuyerName:   n.BuyerName,
		EventID:     n.EventID,
		EventName:   n.EventName,
		Amount:      decimal.New(n.Amount, -2).StringFixed(2),
		TicketCount: n.TicketCount,
		TicketURL:   ticketURLBase + n.PaymentID,
	}
	var buf bytes.Buffer
	if err := bookingTemplate.Execute(&buf, view); err != nil {
		return Email{}, fmt.Errorf("render booking email: %w", err)
	}
	plain := fmt.Sprintf("Booking %s: %d ticket(s) for event %s, $%s. Ticket: %s",
		n.PaymentID, n.TicketCount, n.EventID, view.Amount, view.TicketURL)
	return Email{To: n.To, Subject: bookingSubject, HTML: buf.String(), Plain: plain}, nil
}

// BookingHandler consumes booking notifications and emails the buyer.
func BookingHandler(mailer Mailer, ticketURLBase string, log *logger.Logger) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var n models.BookingNotification
		if err := json.Unmarshal(msg.Value, &n); err != nil {
			// A malformed message will never parse; drop it.
			log.Error("EMAIL", fmt.Sprintf("Discarding malformed booking message at offset %d: %v", msg.Offset, err))
			metrics.EmailsSent.WithLabelValues("malformed").Inc()
			return nil
		}
		if n.To == "" {
			log.Warn("EMAIL", "Booking "+n.PaymentID+" has no recipient")
			return nil
		}

		email, err := RenderBooking(n, ticketURLBase)
		if err != nil {
			return err
		}
		if err := mailer.Send(ctx, email); err != nil {
			metrics.EmailsSent.WithLabelValues("failed").Inc()
			return err
		}
		metrics.EmailsSent.WithLabelValues("sent").Inc()
		log.Info("EMAIL", fmt.Sprintf("Booking confirmation for %s sent to %s", n.PaymentID, n.To))
		return nil
	}
}
