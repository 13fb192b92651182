package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const maxWebhookBodyBytes = 1 << 20

// TravisWebhookHandler verifies Travis CI webhook requests and relays
// the build result to a chat.
type TravisWebhookHandler struct {
	Route string
	Keys  PublicKeySource
	Chat  ChatSender
}

func NewTravisWebhookHandler(route string, keys PublicKeySource, chat ChatSender) *TravisWebhookHandler {
	if route == "" {
		route = "/"
	}
	log.Debug().Str("route", route).Msg("Creating Travis webhook handler")
	return &TravisWebhookHandler{
		Route: route,
		Keys:  keys,
		Chat:  chat,
	}
}

func (h *TravisWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.With().
		Str("requestId", uuid.NewString()).
		Str("remoteAddr", r.RemoteAddr).
		Logger()
	logger.Debug().Msg("Handling webhook")
	if r.URL.Path != h.Route {
		logger.Warn().Str("path", r.URL.Path).Msg("Path not found")
		http.Error(w, "Path not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		logger.Warn().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := logger.WithContext(r.Context())
	if err := h.handle(ctx, r); err != nil {
		ev := logger.Error().Err(err).Str("failure", failureKind(err))
		var upstream *upstreamError
		if errors.As(err, &upstream) {
			ev = ev.Int("statusCode", upstream.StatusCode()).Str("responseBody", upstream.Body())
		}
		ev.Msg("Failed to relay Travis result to Telegram")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}

// handle runs verify, parse, format and deliver in order. Any error aborts.
func (h *TravisWebhookHandler) handle(ctx context.Context, r *http.Request) error {
	logger := zerolog.Ctx(ctx)
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, tooLarge.Limit)
		}
		return fmt.Errorf("%w: failed to read body: %s", ErrMalformedPayload, err)
	}
	logger.Trace().Str("body", string(body)).Msg("Webhook body")

	payload, err := extractPayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		return err
	}
	if err := h.verify(ctx, r.Header.Get("Signature"), payload); err != nil {
		return err
	}

	build, err := ParseTravisPayload(payload)
	if err != nil {
		return err
	}
	logger.Info().
		Str("repository", build.Repository.Name).
		Str("buildNumber", build.Number.String()).
		Any("status", build.Status).
		Str("statusMessage", build.StatusMessage).
		Str("branch", build.Branch).
		Msg("Verified Travis build result")

	return h.Chat.SendMessage(ctx, FormatBuildMessage(build))
}

func (h *TravisWebhookHandler) verify(ctx context.Context, signatureHeader, payload string) error {
	key, err := h.Keys.PublicKey(ctx)
	if err != nil {
		return err
	}
	signature, err := DecodeSignature(signatureHeader)
	if err != nil {
		return err
	}
	return VerifySignature(key, []byte(payload), signature)
}

// extractPayload returns the signed payload string, as sent, from a form
// encoded or JSON request body. A body that starts with "{" is read as JSON
// whatever its Content-Type says.
func extractPayload(contentType string, body []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" || bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		field := gjson.GetBytes(body, "payload")
		if field.Type != gjson.String {
			return "", fmt.Errorf("%w: body has no payload string", ErrMalformedPayload)
		}
		return field.String(), nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse form body: %s", ErrMalformedPayload, err)
	}
	if !values.Has("payload") {
		return "", fmt.Errorf("%w: body has no payload field", ErrMalformedPayload)
	}
	return values.Get("payload"), nil
}
