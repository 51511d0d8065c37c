package delivery

import (
	"context"
	"log/slog"

	"github.com/ozoneai/ozone/internal/logger"
)

// Dispatcher routes a Request to the sender registered for its connector.
type Dispatcher struct {
	whatsapp WhatsAppSender
	email    EmailSender
	// contentSID is attached to every WhatsApp message when set.
	contentSID string
	logger     *logger.Logger
}

func NewDispatcher(whatsapp WhatsAppSender, email EmailSender, contentSID string, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		whatsapp:   whatsapp,
		email:      email,
		contentSID: contentSID,
		logger:     logger.WithComponent("delivery"),
	}
}

// Deliver sends req and returns what the connector observed. It never returns an error:
// failures are described by the Result.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) Result {
	var res Result

	switch req.Connector {
	case ConnectorWhatsApp:
		if d.whatsapp == nil {
			res = Result{Reason: ReasonNoCredentials}
			break
		}
		res = d.whatsapp.SendWhatsApp(ctx, WhatsAppMessage{
			To:         req.To,
			Body:       req.Body,
			ContentSID: d.contentSID,
		})
	case ConnectorEmail:
		if d.email == nil {
			res = Result{Reason: ReasonNoCredentials}
			break
		}
		res = d.email.SendEmail(ctx, EmailMessage{
			To:      req.To,
			Subject: req.Subject,
			Content: req.Body,
		})
	default:
		res = Result{Reason: ReasonUnsupportedConnector}
	}

	d.logger.WithContext(ctx).Info("delivery attempted",
		slog.String("connector", string(req.Connector)),
		slog.Bool("ok", res.OK),
		slog.Int("status", res.Status),
		slog.String("reason", res.Reason))

	return res
}
