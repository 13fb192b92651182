package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const ParseModeMarkdown = "Markdown"

// SendMessageRequest is the body of a Telegram Bot API sendMessage call
type SendMessageRequest struct {
	Text      string `json:"text"`
	ChatID    string `json:"chat_id"`
	ParseMode string `json:"parse_mode"`
}

// ChatSender delivers a formatted message to a chat
type ChatSender interface {
	SendMessage(ctx context.Context, text string) error
}

// TelegramBot posts messages to one chat through the Telegram Bot API
type TelegramBot struct {
	// ApiUrl is the bot prefix, e.g. https://api.telegram.org/bot<token>
	ApiUrl string
	ChatID string
	Client *http.Client
}

func NewTelegramBot(apiUrl, chatID string, c *http.Client) *TelegramBot {
	return &TelegramBot{
		ApiUrl: strings.TrimRight(apiUrl, "/"),
		ChatID: chatID,
		Client: c,
	}
}

// SendMessage sends text to the configured chat as Markdown
func (b *TelegramBot) SendMessage(ctx context.Context, text string) error {
	logger := zerolog.Ctx(ctx)
	data, err := json.Marshal(&SendMessageRequest{
		Text:      text,
		ChatID:    b.ChatID,
		ParseMode: ParseModeMarkdown,
	})
	if err != nil {
		return &upstreamError{kind: ErrDeliveryFailed, op: "send message", err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.ApiUrl+"/sendMessage", bytes.NewReader(data))
	if err != nil {
		return &upstreamError{kind: ErrDeliveryFailed, op: "send message", err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debug().Str("chatId", b.ChatID).Msg("Sending message to Telegram")
	res, err := b.Client.Do(req)
	if err != nil {
		return &upstreamError{kind: ErrDeliveryFailed, op: "send message", err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &upstreamError{kind: ErrDeliveryFailed, op: "send message", statusCode: res.StatusCode, body: string(body), err: err}
	}
	if err != nil {
		// Delivered; only the response body was lost
		logger.Warn().Err(err).Msg("Failed to read Telegram sendMessage response")
	}
	logger.Trace().Str("body", string(body)).Msg("Telegram sendMessage response")
	logger.Debug().
		Str("chatId", b.ChatID).
		Int("statusCode", res.StatusCode).
		Msg("Message delivered")
	return nil
}
