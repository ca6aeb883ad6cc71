package telegram

import (
	"context"

	"github.com/tbourn/go-track-bot/internal/domain"
)

// Invoice texts.
const (
	invoiceTitle       = "Track download"
	invoiceDescription = "One track download. Your request is processed as soon as the payment goes through."
	invoiceLabel       = "Download"
)

// Notifier adapts Client to the outbound interfaces of the services and
// queue packages: status messages, replies, audio delivery and invoices.
type Notifier struct {
	Client   *Client
	Currency string
}

// NewNotifier returns a Notifier that invoices in currency (e.g. "XTR").
func NewNotifier(c *Client, currency string) *Notifier {
	return &Notifier{Client: c, Currency: currency}
}

// SendStatus posts text as a new message and returns a handle to edit it
// later.
func (n *Notifier) SendStatus(ctx context.Context, chatID int64, text string) (domain.StatusHandle, error) {
	id, err := n.Client.SendMessage(ctx, chatID, text)
	if err != nil {
		return domain.StatusHandle{}, err
	}
	return domain.StatusHandle{ChatID: chatID, MessageID: id}, nil
}

// Reply posts text without keeping a handle.
func (n *Notifier) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := n.Client.SendMessage(ctx, chatID, text)
	return err
}

// UpdateStatus rewrites the status message behind h.
func (n *Notifier) UpdateStatus(ctx context.Context, h domain.StatusHandle, text string) error {
	return n.Client.EditMessageText(ctx, h.ChatID, h.MessageID, text)
}

// DeliverAudio uploads the file at path to the chat of h, tagged with title
// and performer.
func (n *Notifier) DeliverAudio(ctx context.Context, h domain.StatusHandle, path, title, performer string) error {
	return n.Client.SendAudio(ctx, h.ChatID, path, title, performer)
}

// ClearStatus deletes the status message behind h.
func (n *Notifier) ClearStatus(ctx context.Context, h domain.StatusHandle) error {
	return n.Client.DeleteMessage(ctx, h.ChatID, h.MessageID)
}

// RequestPayment sends an invoice for amount whose payload is the payment id.
func (n *Notifier) RequestPayment(ctx context.Context, chatID int64, amount int, payload string) error {
	return n.Client.SendInvoice(ctx, chatID, invoiceTitle, invoiceDescription, payload, n.Currency,
		LabeledPrice{Label: invoiceLabel, Amount: amount})
}
