package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"promptsmith/internal/llm"
)

// ErrInvalidModel indicates the requested model is not on the allow-list.
var ErrInvalidModel = errors.New("model not allowed")

// ErrUpstreamFailure indicates the provider call itself failed. The original
// error is logged server-side and never attached, so provider detail does not
// leak to callers.
var ErrUpstreamFailure = errors.New("upstream provider error")

// ChatCaller is the slice of the upstream client the dispatcher depends on.
type ChatCaller interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Dispatcher validates a model identifier against a fixed allow-list and
// forwards a message list to the upstream provider.
type Dispatcher struct {
	allowed []string
	set     map[string]struct{}
	client  ChatCaller
}

// New constructs a dispatcher over the given allow-list. The list is fixed
// for the lifetime of the dispatcher.
func New(allowed []string, client ChatCaller) (*Dispatcher, error) {
	if client == nil {
		return nil, errors.New("chat client must not be nil")
	}
	if len(allowed) == 0 {
		return nil, errors.New("allow-list must not be empty")
	}

	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		if strings.TrimSpace(id) == "" {
			return nil, errors.New("allow-list must not contain empty ids")
		}
		set[id] = struct{}{}
	}

	return &Dispatcher{
		allowed: slices.Clone(allowed),
		set:     set,
		client:  client,
	}, nil
}

// Allowed reports whether the model identifier is on the allow-list.
func (d *Dispatcher) Allowed(modelID string) bool {
	_, ok := d.set[modelID]
	return ok
}

// AllowedModels returns the allow-list in registration order.
func (d *Dispatcher) AllowedModels() []string {
	return slices.Clone(d.allowed)
}

// Dispatch checks the model against the allow-list and issues exactly one
// chat-completion call. Disallowed models fail before any network activity.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID string, messages []llm.Message) (string, error) {
	if !d.Allowed(modelID) {
		return "", fmt.Errorf("%w: %q is not permitted, choose one of: %s",
			ErrInvalidModel, modelID, strings.Join(d.allowed, ", "))
	}

	text, err := d.client.Chat(ctx, modelID, messages)
	if err != nil {
		slog.Error("upstream chat call failed", "model", modelID, "err", err)
		return "", ErrUpstreamFailure
	}
	return text, nil
}
