package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crosschain-router/internal/route"
)

// Remote resolves intents through an external language service.
type Remote struct {
	url    string
	apiKey string
	client *http.Client
}

// NewRemote constructs a Remote resolver posting to url.
func NewRemote(url, apiKey string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	Text                 string        `json:"text"`
	AwaitingConfirmation bool          `json:"awaitingConfirmation"`
	Wallet               string        `json:"wallet,omitempty"`
	HomeNetwork          route.Network `json:"homeNetwork,omitempty"`
}

// Parse posts the text and decodes the returned Intent.
func (r *Remote) Parse(ctx context.Context, text string, c Context) (Intent, error) {
	if r.url == "" {
		return Intent{}, errors.New("intent service url not configured")
	}

	body, err := json.Marshal(remoteRequest{
		Text:                 text,
		AwaitingConfirmation: c.AwaitingConfirmation,
		Wallet:               c.Wallet,
		HomeNetwork:          c.HomeNetwork,
	})
	if err != nil {
		return Intent{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Intent{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Intent{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Intent{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Intent{}, fmt.Errorf("intent service error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var in Intent
	if err := json.Unmarshal(payload, &in); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	if err := in.check(); err != nil {
		return Intent{}, err
	}
	if in.Text == "" {
		in.Text = text
	}
	return in, nil
}

// check rejects intents missing the fields their kind requires.
func (in Intent) check() error {
	switch in.Kind {
	case KindTransfer, KindSwapAndTransfer, KindQuery:
		if in.Transfer == nil {
			return fmt.Errorf("%s intent without transfer", in.Kind)
		}
		if in.Kind == KindSwapAndTransfer && in.SwapFrom == "" {
			return errors.New("swap intent without source asset")
		}
	case KindAlert:
		if in.Condition == nil {
			return errors.New("alert intent without condition")
		}
		if in.Action == route.ActionAutoExecute && in.Transfer == nil {
			return errors.New("auto-execute alert without transfer")
		}
	case KindCancelAlert:
		if in.AlertID == "" {
			return errors.New("cancel intent without alert id")
		}
	case KindConfirm, KindListAlerts, KindClarification:
	default:
		return fmt.Errorf("unknown intent kind %q", in.Kind)
	}
	return nil
}

// Fallback tries primary first and degrades to fallback on any error.
type Fallback struct {
	primary  Resolver
	fallback Resolver
	logger   zerolog.Logger
}

// NewFallback chains two resolvers. A nil primary resolves with fallback only.
func NewFallback(primary, fallback Resolver, logger zerolog.Logger) *Fallback {
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "intent").Logger(),
	}
}

func (f *Fallback) Parse(ctx context.Context, text string, c Context) (Intent, error) {
	if f.primary != nil {
		in, err := f.primary.Parse(ctx, text, c)
		if err == nil {
			return in, nil
		}
		f.logger.Warn().Err(err).Msg("intent service unavailable, using local parser")
	}
	return f.fallback.Parse(ctx, text, c)
}

var (
	_ Resolver = (*Remote)(nil)
	_ Resolver = (*Fallback)(nil)
)
