package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"marketplace_back_end/internal/money"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSink prévient l'acheteur par email. Les vendeurs passent par le websocket et Kafka.
type EmailSink struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewEmailSink(cfg SMTPConfig) *EmailSink {
	s := &EmailSink{cfg: cfg}
	s.send = s.dialAndSend
	return s
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, ev Event) error {
	if ev.BuyerEmail == "" {
		return nil
	}
	msg, err := s.buildMessage(ev)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *EmailSink) buildMessage(ev Event) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("expéditeur invalide: %w", err)
	}
	if err := msg.To(ev.BuyerEmail); err != nil {
		return nil, fmt.Errorf("destinataire invalide: %w", err)
	}
	msg.Subject(statusSubject(ev))
	msg.SetBodyString(mail.TypeTextHTML, statusBody(ev))
	return msg, nil
}

func (s *EmailSink) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	if s.cfg.Host == "" {
		return errors.New("SMTP_HOST non configuré")
	}
	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("client SMTP: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func statusSubject(ev Event) string {
	if ev.Type == OrderCreated {
		return "🛒 Commande " + ev.OrderNumber + " enregistrée"
	}
	switch ev.Status {
	case "processing":
		return "✅ Paiement confirmé - " + ev.OrderNumber
	case "shipped":
		return "📦 Votre commande a été expédiée - " + ev.OrderNumber
	case "delivered":
		return "🎉 Votre commande a été livrée - " + ev.OrderNumber
	case "cancelled":
		return "❌ Commande annulée - " + ev.OrderNumber
	case "refunded":
		return "💰 Remboursement effectué - " + ev.OrderNumber
	default:
		return "📋 Mise à jour de votre commande - " + ev.OrderNumber
	}
}

// statusBody échappe chaque champ : le message peut contenir une saisie libre (motif d'annulation).
func statusBody(ev Event) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="fr">
<body style="font-family: Arial, sans-serif; color: #333333;">
    <h2>Commande #%s</h2>
    <p>%s</p>
    <p><strong>Statut:</strong> %s</p>
    <p><strong>Montant:</strong> %s</p>
    <p style="color: #999999; font-size: 12px;">Cet email a été envoyé automatiquement, merci de ne pas y répondre.</p>
</body>
</html>`,
		html.EscapeString(ev.OrderNumber),
		html.EscapeString(ev.Message),
		html.EscapeString(ev.Status),
		html.EscapeString(money.Format(ev.Amount, ev.Currency)))
}
