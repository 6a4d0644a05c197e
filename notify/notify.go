// Package notify delivers guardian release requests and beneficiary secret
// tokens out of band.
package notify

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/ruteri/soulbox-vault/interfaces"
)

var _ interfaces.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log instead of sending them. It is
// meant for local development, where the operator copies tokens from the log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyGuardian(ctx context.Context, notice interfaces.ReleaseNotice) error {
	attrs := []any{
		slog.String("session_id", notice.SessionID.String()),
		slog.String("item_id", notice.SealedItemID.String()),
		slog.String("guardian_id", notice.Guardian.ID.String()),
		slog.String("guardian_email", notice.Guardian.Email),
		slog.String("release_token", notice.ReleaseToken),
		slog.Time("expires_at", notice.ExpiresAt),
	}
	if len(notice.EncryptedShare) > 0 {
		attrs = append(attrs, slog.String("encrypted_share", base64.StdEncoding.EncodeToString(notice.EncryptedShare)))
	}
	n.log.Info("Guardian release requested", attrs...)
	return nil
}

func (n *LogNotifier) SendBeneficiaryToken(ctx context.Context, delivery interfaces.TokenDelivery) error {
	n.log.Info("Beneficiary token issued",
		slog.String("beneficiary_id", delivery.Beneficiary.ID.String()),
		slog.String("method", string(delivery.Method)),
		slog.String("token", delivery.Token))
	return nil
}
