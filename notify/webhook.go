package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// webhook is configured with a secret.
const SignatureHeader = "X-SoulBox-Signature"

const (
	KindGuardianRelease  = "guardian_release_request"
	KindBeneficiaryToken = "beneficiary_token"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL        string
	Secret     string
	MaxRetries uint64
	Timeout    time.Duration
	// InitialInterval is the first retry delay. Zero uses the backoff default.
	InitialInterval time.Duration
}

// Event is the JSON body posted to the webhook.
type Event struct {
	Kind         string    `json:"kind"`
	AccountID    uuid.UUID `json:"accountId"`
	SessionID    uuid.UUID `json:"sessionId,omitempty"`
	SealedItemID uuid.UUID `json:"itemId,omitempty"`
	ItemTitle    string    `json:"itemTitle,omitempty"`
	RecipientID  uuid.UUID `json:"recipientId"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Method       string    `json:"method,omitempty"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`

	// EncryptedShare is base64 in JSON.
	EncryptedShare []byte `json:"encryptedShare,omitempty"`
}

var _ interfaces.Notifier = (*WebhookNotifier)(nil)

// WebhookNotifier posts events to an HTTP endpoint that owns the actual
// email and SMS delivery. 5xx and transport errors are retried with
// exponential backoff; 4xx responses are permanent failures.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	log    *slog.Logger
}

func NewWebhookNotifier(cfg WebhookConfig, log *slog.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook url is required", interfaces.ErrValidation)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

func (n *WebhookNotifier) NotifyGuardian(ctx context.Context, notice interfaces.ReleaseNotice) error {
	return n.post(ctx, Event{
		Kind:         KindGuardianRelease,
		AccountID:    notice.AccountID,
		SessionID:    notice.SessionID,
		SealedItemID: notice.SealedItemID,
		ItemTitle:    notice.ItemTitle,
		RecipientID:  notice.Guardian.ID,
		Name:         notice.Guardian.Name,
		Email:        notice.Guardian.Email,
		Method:       string(interfaces.DeliveryEmail),
		Token:        notice.ReleaseToken,
		ExpiresAt:    notice.ExpiresAt,

		EncryptedShare: notice.EncryptedShare,
	})
}

func (n *WebhookNotifier) SendBeneficiaryToken(ctx context.Context, delivery interfaces.TokenDelivery) error {
	return n.post(ctx, Event{
		Kind:        KindBeneficiaryToken,
		AccountID:   delivery.Beneficiary.AccountID,
		RecipientID: delivery.Beneficiary.ID,
		Name:        delivery.Beneficiary.FullName(),
		Email:       delivery.Beneficiary.Email,
		Phone:       delivery.Beneficiary.Phone,
		Method:      string(delivery.Method),
		Token:       delivery.Token,
	})
}

func (n *WebhookNotifier) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode webhook event: %w", err)
	}

	var signature string
	if n.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(n.cfg.Secret))
		mac.Write(body)
		signature = hex.EncodeToString(mac.Sum(nil))
	}

	policy := backoff.NewExponentialBackOff()
	if n.cfg.InitialInterval > 0 {
		policy.InitialInterval = n.cfg.InitialInterval
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, n.cfg.MaxRetries), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(SignatureHeader, signature)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook responded %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook rejected event: %d", resp.StatusCode))
		}
	}

	if err := backoff.Retry(operation, retry); err != nil {
		n.log.Warn("Webhook delivery failed",
			slog.String("kind", event.Kind),
			slog.String("recipient_id", event.RecipientID.String()),
			slog.Int("attempts", attempt),
			"err", err)
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, err)
	}

	n.log.Debug("Webhook delivered",
		slog.String("kind", event.Kind),
		slog.Int("attempts", attempt))
	return nil
}
