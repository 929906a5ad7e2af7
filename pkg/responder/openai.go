package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"botmux/pkg/bus"
	"botmux/pkg/config"
)

// OpenAI answers updates with the Responses API. Each sender gets its own
// thread, chained through the previous response id.
type OpenAI struct {
	client         osdk.Client
	model          string
	instructions   string
	requestTimeout time.Duration
	threads        *Threads
}

// NewOpenAI builds an OpenAI responder from cfg. Extra request options are
// appended after the configured ones.
func NewOpenAI(cfg config.ResponderConfig, extra ...option.RequestOption) (*OpenAI, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("responder.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}
	opts = append(opts, extra...)

	return &OpenAI{
		client:         osdk.NewClient(opts...),
		model:          model,
		instructions:   strings.TrimSpace(cfg.Instructions),
		requestTimeout: requestTimeout,
		threads:        NewThreads(),
	}, nil
}

// Respond sends the update text as the next turn of the sender's thread.
func (o *OpenAI) Respond(ctx context.Context, update *bus.Update) (string, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	log := responderLogger().With("operation", "respond")
	startedAt := time.Now()

	prompt := strings.TrimSpace(update.Text())
	if prompt == "" {
		return "", nil
	}

	key := threadKey(update)
	params := responses.ResponseNewParams{
		Model: o.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
	}
	if o.instructions != "" {
		params.Instructions = osdk.String(o.instructions)
	}
	if previous := o.threads.Last(key); previous != "" {
		params.PreviousResponseID = osdk.String(previous)
	}
	log.Debug("responder request started", "thread", key, "model", o.model, "prompt_length", len(prompt))

	response, err := o.client.Responses.New(ctx, params)
	if err != nil {
		log.Debug("responder request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("openai response failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		log.Debug("responder request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return "", errors.New("openai response returned no text")
	}
	o.threads.Record(key, response.ID)
	log.Debug("responder request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return text, nil
}

// Forget drops the thread for sender on bot so the next update starts fresh.
func (o *OpenAI) Forget(botID, sender string) {
	o.threads.Clear(botID + "/" + sender)
}

func responderLogger() *slog.Logger {
	return slog.Default().With("component", "responder.openai")
}

func (o *OpenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, o.requestTimeout)
}

func threadKey(update *bus.Update) string {
	return update.BotID + "/" + update.Sender
}

func resolveAPIKey(cfg config.ResponderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("responder.model is required")
	}

	providerID, modelID, ok := strings.Cut(model, "/")
	if !ok {
		return model, nil
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("responder.model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by the openai responder", providerID)
	}

	return modelID, nil
}
