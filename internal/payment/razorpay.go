package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/money"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
)

type razorpayAPI interface {
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
	RefundPayment(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error)
}

type razorpayClient struct {
	c *razorpay.Client
}

func (r razorpayClient) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return r.c.Order.Create(data, nil)
}

func (r razorpayClient) RefundPayment(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error) {
	return r.c.Payment.Refund(paymentID, amount, data, nil)
}

// Razorpay combine deux modèles : le front renvoie (order, payment, signature)
// à vérifier, et les webhooks arrivent en parallèle. Les deux aboutissent aux
// mêmes transitions côté réconciliation.
type Razorpay struct {
	keyID         string
	keySecret     string
	webhookSecret string
	api           razorpayAPI
}

func NewRazorpay(keyID, keySecret, webhookSecret string) *Razorpay {
	return &Razorpay{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		api:           razorpayClient{c: razorpay.NewClient(keyID, keySecret)},
	}
}

func (r *Razorpay) Name() string { return models.GatewayRazorpay }

func (r *Razorpay) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	notes := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		notes[k] = v
	}
	body, err := r.api.CreateOrder(map[string]interface{}{
		"amount":   money.ToMinor(amount),
		"currency": strings.ToUpper(currency),
		"receipt":  metadata["order_number"],
		"notes":    notes,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("création order Razorpay: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return Intent{}, fmt.Errorf("réponse Razorpay sans id: %v", body)
	}
	return Intent{
		Gateway:   models.GatewayRazorpay,
		Reference: id,
		KeyID:     r.keyID,
		Amount:    amount,
		Currency:  strings.ToLower(currency),
	}, nil
}

func (r *Razorpay) Refund(ctx context.Context, info models.PaymentInfo, amount decimal.Decimal) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	if info.GatewayPaymentID == "" {
		return Refund{}, ErrMissingPaymentID
	}
	body, err := r.api.RefundPayment(info.GatewayPaymentID, int(money.ToMinor(amount)), nil)
	if err != nil {
		return Refund{}, fmt.Errorf("remboursement Razorpay: %w", err)
	}
	out := Refund{Amount: amount}
	out.ID, _ = body["id"].(string)
	out.Status, _ = body["status"].(string)
	return out, nil
}

// VerifyPayment contrôle la signature renvoyée par le checkout Razorpay :
// HMAC-SHA256(orderID + "|" + paymentID) avec la clé secrète, comparaison à temps constant.
func (r *Razorpay) VerifyPayment(orderID, paymentID, signature string) bool {
	return verifyHMAC(r.keySecret, orderID+"|"+paymentID, signature)
}

func verifyHMAC(secret, payload, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Sign retourne la signature hexadécimale HMAC-SHA256 de payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type razorpayPayment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	AmountRefunded   int64           `json:"amount_refunded"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Notes            json.RawMessage `json:"notes"`
	ErrorDescription string          `json:"error_description"`
}

func (r *Razorpay) ParseWebhook(payload []byte, headers http.Header) (Event, error) {
	if !verifyHMAC(r.webhookSecret, string(payload), headers.Get("X-Razorpay-Signature")) {
		return Event{}, ErrInvalidSignature
	}

	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return Event{}, fmt.Errorf("décodage webhook Razorpay: %w", err)
	}

	id := headers.Get("X-Razorpay-Event-Id")
	if id == "" {
		// Sans identifiant, le corps signé sert de clé de déduplication.
		sum := sha256.Sum256(payload)
		id = hex.EncodeToString(sum[:])
	}

	out := Event{ID: id, Gateway: models.GatewayRazorpay, Type: wh.Event, Kind: EventUnknown, Raw: payload}
	if wh.Payload.Payment != nil {
		p := wh.Payload.Payment.Entity
		out.Reference = p.OrderID
		out.PaymentID = p.ID
		out.OrderID = noteValue(p.Notes, "order_id")
		out.Amount = money.FromMinor(p.Amount)
		out.AmountRefunded = money.FromMinor(p.AmountRefunded)
		out.Currency = strings.ToLower(p.Currency)
		out.FailureReason = p.ErrorDescription
	}

	switch wh.Event {
	case "payment.captured", "order.paid":
		out.Kind = EventPaymentSucceeded
	case "payment.failed":
		out.Kind = EventPaymentFailed
	case "refund.processed", "payment.refunded":
		out.Kind = EventRefunded
		if wh.Payload.Refund != nil && out.PaymentID == "" {
			out.PaymentID = wh.Payload.Refund.Entity.PaymentID
		}
		if out.AmountRefunded.IsZero() && wh.Payload.Refund != nil {
			out.AmountRefunded = money.FromMinor(wh.Payload.Refund.Entity.Amount)
		}
	}
	return out, nil
}

// noteValue lit une note Razorpay; les notes vides arrivent sous forme de tableau.
func noteValue(raw json.RawMessage, key string) string {
	var notes map[string]interface{}
	if err := json.Unmarshal(raw, &notes); err != nil {
		return ""
	}
	v, _ := notes[key].(string)
	return v
}
