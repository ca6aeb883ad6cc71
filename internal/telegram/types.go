// Package telegram is the messaging transport of the bot: a Bot API client
// on top of tgbotapi, the notifier the worker reports through, and the
// dispatcher that routes inbound updates from the webhook or the
// long-polling loop.
package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// Wire types are tgbotapi's. Only the fields the bot reacts to are read.
type (
	Update            = tgbotapi.Update
	Message           = tgbotapi.Message
	User              = tgbotapi.User
	Chat              = tgbotapi.Chat
	PreCheckoutQuery  = tgbotapi.PreCheckoutQuery
	SuccessfulPayment = tgbotapi.SuccessfulPayment
	LabeledPrice      = tgbotapi.LabeledPrice
)
