package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// allowedUpdates are the update kinds the bot subscribes to.
var allowedUpdates = []string{"message", "pre_checkout_query"}

// APIError is a Bot API call that came back with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client calls the Bot API through tgbotapi. Every call is bound to the
// caller's context.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL (e.g. https://api.telegram.org).
// GetUpdates poll windows must stay below timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// ctxDoer attaches ctx to every request tgbotapi sends.
type ctxDoer struct {
	ctx  context.Context
	http *http.Client
}

func (d ctxDoer) Do(req *http.Request) (*http.Response, error) {
	return d.http.Do(req.WithContext(d.ctx))
}

// api builds a BotAPI bound to ctx. It is built directly rather than with
// tgbotapi.NewBotAPI, which would call getMe first.
func (c *Client) api(ctx context.Context) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{
		Token:  c.Token,
		Client: ctxDoer{ctx: ctx, http: c.HTTP},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(strings.ReplaceAll(c.BaseURL, "%", "%%") + "/bot%s/%s")
	return bot
}

// wrap turns a tgbotapi failure into an *APIError when Telegram answered
// ok=false.
func wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &APIError{Method: method, Code: tgErr.Code, Description: tgErr.Message}
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

// SendMessage posts text and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := c.api(ctx).Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, wrap("sendMessage", err)
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of a message. Editing to the same text
// is not an error.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	if messageID == 0 {
		return nil
	}
	_, err := c.api(ctx).Request(tgbotapi.NewEditMessageText(chatID, messageID, text))
	err = wrap("editMessageText", err)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if messageID == 0 {
		return nil
	}
	_, err := c.api(ctx).Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return wrap("deleteMessage", err)
}

// SendAudio uploads the file at path as an audio message.
func (c *Client) SendAudio(ctx context.Context, chatID int64, path, title, performer string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(path))
	audio.Title = title
	audio.Performer = performer
	_, err := c.api(ctx).Send(audio)
	return wrap("sendAudio", err)
}

// SendInvoice sends an invoice listing prices. Telegram Stars (XTR) invoices
// take an empty provider token.
func (c *Client) SendInvoice(ctx context.Context, chatID int64, title, description, payload, currency string, prices ...tgbotapi.LabeledPrice) error {
	inv := tgbotapi.NewInvoice(chatID, title, description, payload, "", "", currency, prices)
	_, err := c.api(ctx).Request(inv)
	return wrap("sendInvoice", err)
}

// AnswerPreCheckoutQuery approves or rejects a checkout. errMsg is shown to
// the payer on rejection.
func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errMsg string) error {
	// ok is sent explicitly; a rejection must carry ok=false.
	params := tgbotapi.Params{
		"pre_checkout_query_id": queryID,
		"ok":                    strconv.FormatBool(ok),
	}
	if !ok {
		params.AddNonEmpty("error_message", errMsg)
	}
	_, err := c.api(ctx).MakeRequest("answerPreCheckoutQuery", params)
	return wrap("answerPreCheckoutQuery", err)
}

// SetWebhook registers url. A non-empty secret is echoed back by Telegram in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
// WebhookConfig has no secret_token field, so the call is made with raw
// params.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return err
	}
	_, err := c.api(ctx).MakeRequest("setWebhook", params)
	return wrap("setWebhook", err)
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.api(ctx).Request(tgbotapi.DeleteWebhookConfig{})
	return wrap("deleteWebhook", err)
}

// GetUpdates long-polls for updates starting at offset, waiting up to
// timeout seconds server-side.
func (c *Client) GetUpdates(ctx context.Context, offset, timeout int) ([]Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeout
	cfg.AllowedUpdates = allowedUpdates
	updates, err := c.api(ctx).GetUpdates(cfg)
	return updates, wrap("getUpdates", err)
}
