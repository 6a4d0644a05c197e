package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/kms"
)

// Audit results of rejected release calls.
const (
	rejectSessionClosed   = "session_closed"
	rejectNotAssigned     = "not_assigned"
	rejectNoRequest       = "no_request"
	rejectAlreadyDecided  = "already_decided"
	rejectRevoked         = "revoked"
	rejectShareRequired   = "share_required"
	rejectInvalidShare    = "invalid_share"
	rejectAlreadyTaken    = "already_collected"
	rejectNotVerified     = "not_verified"
	rejectInternal        = "internal_error"
	rejectResealFailed    = "reseal_failed"
	releaseApproved       = "approved"
	releaseDenied         = "denied"
	reconstructionFailure = "failed"
)

const notificationTimeout = 5 * time.Minute

// completionLease bounds how long a claim on a session being completed holds
// off other processes sharing the store.
const completionLease = 5 * time.Minute

// ReleaseInput is a guardian's answer to a release request. Share is the
// decrypted share of a guardian-custody shard and is ignored otherwise.
type ReleaseInput struct {
	SessionID  uuid.UUID
	GuardianID uuid.UUID
	Approve    bool
	Share      []byte
}

// ReleaseResult reports the session after a release decision. Payload is set
// only for the call that completed the quorum.
type ReleaseResult struct {
	Session        interfaces.UnlockSession
	ShardsRequired int
	Payload        []byte
}

// SessionStatus is the beneficiary's view of an unlock session.
type SessionStatus struct {
	Session        interfaces.UnlockSession
	ShardsRequired int
	ItemStatus     interfaces.ItemStatus
}

// RequestShardRelease asks a guardian to release its share for the session.
// Repeated requests are idempotent but notify the guardian again while the
// request is undecided.
func (s *Service) RequestShardRelease(ctx context.Context, sessionID, guardianID uuid.UUID) (interfaces.ReleaseRequest, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return interfaces.ReleaseRequest{}, err
	}

	reject := func(result string, err error) (interfaces.ReleaseRequest, error) {
		s.recordRejection(ctx, session, guardianID, result)
		return interfaces.ReleaseRequest{}, err
	}

	if session.Outcome.Terminal() {
		return reject(rejectSessionClosed, fmt.Errorf("%w: session is %s", interfaces.ErrSessionExpired, session.Outcome))
	}
	if !session.IdentityVerified {
		return reject(rejectNotVerified, fmt.Errorf("%w: identity not verified", interfaces.ErrValidation))
	}

	item, err := s.store.GetSealedItem(ctx, session.SealedItemID)
	if err != nil {
		return reject(rejectInternal, err)
	}

	shard, err := s.store.GetShard(ctx, item.ID, guardianID)
	if isNotFound(err) {
		return reject(rejectNotAssigned, fmt.Errorf("%w: guardian is not assigned to this item", interfaces.ErrNotFound))
	} else if err != nil {
		return reject(rejectInternal, err)
	}
	if shard.Revoked {
		return reject(rejectRevoked, fmt.Errorf("%w: guardian's shard was revoked", interfaces.ErrValidation))
	}

	now := s.now()
	created, err := s.store.CreateReleaseRequest(ctx, interfaces.ReleaseRequest{
		SessionID:   session.ID,
		GuardianID:  guardianID,
		RequestedAt: now,
		Decision:    interfaces.DecisionPending,
	})
	if err != nil {
		return reject(rejectInternal, err)
	}
	if created {
		s.record(ctx, interfaces.AuditRecord{
			AccountID:    session.AccountID,
			SealedItemID: item.ID,
			SessionID:    session.ID,
			ActorID:      guardianID,
			Action:       interfaces.AuditShardRequested,
			Result:       "requested",
			Timestamp:    now,
		})
	}

	request, err := s.store.GetReleaseRequest(ctx, session.ID, guardianID)
	if err != nil {
		return reject(rejectInternal, err)
	}
	if request.Decision != interfaces.DecisionPending {
		return request, nil
	}

	guardian, err := s.store.GetGuardian(ctx, guardianID)
	if err != nil {
		return reject(rejectInternal, err)
	}
	token, err := s.tokens.IssueGuardianToken(session.AccountID, session.ID, guardianID, session.ExpiresAt)
	if err != nil {
		return reject(rejectInternal, err)
	}

	notice := interfaces.ReleaseNotice{
		AccountID:    session.AccountID,
		SessionID:    session.ID,
		SealedItemID: item.ID,
		ItemTitle:    item.Title,
		Guardian:     guardian,
		ReleaseToken: token,
		ExpiresAt:    session.ExpiresAt,
	}
	if shard.Custody == interfaces.CustodyGuardian {
		notice.EncryptedShare = shard.EncryptedShare
	}
	s.notifyGuardian(notice)

	return request, nil
}

// recordRejection audits a refused or failed call against the session.
func (s *Service) recordRejection(ctx context.Context, session interfaces.UnlockSession, actorID uuid.UUID, result string) {
	s.record(ctx, interfaces.AuditRecord{
		AccountID:    session.AccountID,
		SealedItemID: session.SealedItemID,
		SessionID:    session.ID,
		ActorID:      actorID,
		Action:       interfaces.AuditReleaseRejected,
		Result:       result,
	})
}

// notifyGuardian delivers the notice in the background. Failures are logged
// and never surface to the caller.
func (s *Service) notifyGuardian(notice interfaces.ReleaseNotice) {
	started := s.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		if err := s.notifier.NotifyGuardian(ctx, notice); err != nil {
			s.metrics.Notification("failed")
			s.log.Error("failed to notify guardian",
				slog.String("session", notice.SessionID.String()),
				slog.String("guardian", notice.Guardian.ID.String()),
				"err", err)
			return
		}
		s.metrics.Notification("sent")
	})
	if !started {
		s.log.Warn("service closing, guardian not notified", slog.String("session", notice.SessionID.String()))
	}
}

// ReleaseShare records a guardian's decision. A denial fails the session. An
// approval counts the guardian's verified share; the approval that reaches
// the item's threshold reconstructs the key and returns the decrypted payload.
// Approvals below the threshold return ErrQuorumNotMet with the current count.
func (s *Service) ReleaseShare(ctx context.Context, in ReleaseInput) (ReleaseResult, error) {
	unlock := s.sessions.Lock(in.SessionID)
	defer unlock()

	session, err := s.openSession(ctx, in.SessionID)
	if err != nil {
		return ReleaseResult{}, err
	}

	reject := func(result string, err error) (ReleaseResult, error) {
		s.recordRejection(ctx, session, in.GuardianID, result)
		return ReleaseResult{Session: session}, err
	}

	if session.Outcome.Terminal() {
		return reject(rejectSessionClosed, fmt.Errorf("%w: session is %s", interfaces.ErrSessionExpired, session.Outcome))
	}

	item, err := s.store.GetSealedItem(ctx, session.SealedItemID)
	if err != nil {
		return reject(rejectInternal, err)
	}

	shard, err := s.store.GetShard(ctx, item.ID, in.GuardianID)
	if isNotFound(err) {
		return reject(rejectNotAssigned, fmt.Errorf("%w: guardian is not assigned to this item", interfaces.ErrNotFound))
	} else if err != nil {
		return reject(rejectInternal, err)
	}

	request, err := s.store.GetReleaseRequest(ctx, session.ID, in.GuardianID)
	if isNotFound(err) {
		return reject(rejectNoRequest, fmt.Errorf("%w: release was not requested from this guardian", interfaces.ErrNotFound))
	} else if err != nil {
		return reject(rejectInternal, err)
	}
	if request.Decision != interfaces.DecisionPending {
		return reject(rejectAlreadyDecided, fmt.Errorf("%w: release already %s", interfaces.ErrValidation, request.Decision))
	}
	if shard.Revoked {
		return reject(rejectRevoked, fmt.Errorf("%w: guardian's shard was revoked", interfaces.ErrValidation))
	}

	if !in.Approve {
		res, err := s.deny(ctx, session, item, in.GuardianID)
		if err != nil {
			return reject(rejectInternal, err)
		}
		return res, nil
	}

	share, result, err := s.openShare(ctx, shard, in.Share)
	if err != nil {
		return reject(result, err)
	}
	resealed, err := s.sealer.Seal(ctx, in.GuardianID, share)
	cryptoutils.Wipe(share)
	if err != nil {
		return reject(rejectResealFailed, fmt.Errorf("%w: failed to reseal share: %v", interfaces.ErrCrypto, err))
	}

	now := s.now()
	count, err := s.store.DecideReleaseRequest(ctx, session.ID, in.GuardianID, interfaces.DecisionApproved, resealed, now)
	if err != nil {
		return reject(rejectInternal, err)
	}
	session.ReleasedShardCount = count

	s.record(ctx, interfaces.AuditRecord{
		AccountID:    session.AccountID,
		SealedItemID: item.ID,
		SessionID:    session.ID,
		ActorID:      in.GuardianID,
		Action:       interfaces.AuditShardReleased,
		Result:       releaseApproved,
		Timestamp:    now,
	})
	s.metrics.ShardRelease(releaseApproved)

	if count < item.ShardsRequired {
		return ReleaseResult{Session: session, ShardsRequired: item.ShardsRequired},
			fmt.Errorf("%w: %d of %d shares released", interfaces.ErrQuorumNotMet, count, item.ShardsRequired)
	}

	res, err := s.complete(ctx, session, item, in.GuardianID)
	if err != nil && !errors.Is(err, interfaces.ErrCrypto) {
		s.recordRejection(ctx, session, in.GuardianID, rejectInternal)
	}
	return res, err
}

// openShare returns the plaintext share of the shard after checking it
// against the stored digest. The returned string is the audit result used
// when the share is rejected.
func (s *Service) openShare(ctx context.Context, shard interfaces.ShardRecord, submitted []byte) ([]byte, string, error) {
	var share []byte
	switch shard.Custody {
	case interfaces.CustodyGuardian:
		if len(submitted) == 0 {
			return nil, rejectShareRequired, fmt.Errorf("%w: this guardian must submit its decrypted share", interfaces.ErrValidation)
		}
		share = append([]byte(nil), submitted...)
	default:
		opened, err := s.sealer.Open(ctx, shard.GuardianID, shard.EncryptedShare)
		if err != nil {
			return nil, rejectInvalidShare, fmt.Errorf("%w: failed to open share: %v", interfaces.ErrCrypto, err)
		}
		share = opened
	}

	if !kms.VerifyShare(share, shard.ShareDigest) {
		cryptoutils.Wipe(share)
		return nil, rejectInvalidShare, fmt.Errorf("%w: share does not match its digest", interfaces.ErrCrypto)
	}
	return share, "", nil
}

func (s *Service) deny(ctx context.Context, session interfaces.UnlockSession, item interfaces.SealedItem, guardianID uuid.UUID) (ReleaseResult, error) {
	now := s.now()
	if _, err := s.store.DecideReleaseRequest(ctx, session.ID, guardianID, interfaces.DecisionDenied, nil, now); err != nil {
		return ReleaseResult{}, err
	}

	won, err := s.store.CloseSession(ctx, session.ID, interfaces.OutcomeFailed, now)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !won {
		return ReleaseResult{}, fmt.Errorf("%w: session closed concurrently", interfaces.ErrSessionExpired)
	}
	s.stopTimer(session.ID)

	s.record(ctx, interfaces.AuditRecord{
		AccountID:    session.AccountID,
		SealedItemID: item.ID,
		SessionID:    session.ID,
		ActorID:      guardianID,
		Action:       interfaces.AuditReleaseDenied,
		Result:       releaseDenied,
		Timestamp:    now,
	})
	s.revertItem(ctx, item.ID)
	s.metrics.ShardRelease(releaseDenied)
	s.metrics.UnlockSession(string(interfaces.OutcomeFailed))

	s.log.Info("release denied, session failed",
		slog.String("session", session.ID.String()),
		slog.String("guardian", guardianID.String()))

	session.Outcome = interfaces.OutcomeFailed
	session.ClosedAt = &now
	return ReleaseResult{Session: session, ShardsRequired: item.ShardsRequired}, nil
}

// complete reconstructs the key from the approved shares and decrypts the
// payload. The session lock serializes callers in this process; the store
// claim keeps other processes from decrypting concurrently, and the
// compare-and-set on the outcome makes sure only one caller ever returns the
// payload. A caller that loses the claim gets the session still pending.
func (s *Service) complete(ctx context.Context, session interfaces.UnlockSession, item interfaces.SealedItem, actorID uuid.UUID) (ReleaseResult, error) {
	claimed, err := s.store.ClaimSession(ctx, session.ID, s.now(), completionLease)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !claimed {
		s.log.Info("session is being completed elsewhere", slog.String("session", session.ID.String()))
		return ReleaseResult{Session: session, ShardsRequired: item.ShardsRequired}, nil
	}

	payload, err := s.reconstruct(ctx, session, item)
	now := s.now()
	if err != nil {
		won, cerr := s.store.CloseSession(ctx, session.ID, interfaces.OutcomeFailed, now)
		if cerr != nil {
			return ReleaseResult{}, cerr
		}
		if won {
			s.stopTimer(session.ID)
			s.record(ctx, interfaces.AuditRecord{
				AccountID:    session.AccountID,
				SealedItemID: item.ID,
				SessionID:    session.ID,
				ActorID:      actorID,
				Action:       interfaces.AuditReconstructionFailed,
				Result:       reconstructionFailure,
				Timestamp:    now,
			})
			s.revertItem(ctx, item.ID)
			s.metrics.UnlockSession(string(interfaces.OutcomeFailed))
		}
		s.log.Error("reconstruction failed", slog.String("session", session.ID.String()), "err", err)
		session.Outcome = interfaces.OutcomeFailed
		session.ClosedAt = &now
		return ReleaseResult{Session: session, ShardsRequired: item.ShardsRequired}, fmt.Errorf("%w: %v", interfaces.ErrCrypto, err)
	}

	won, err := s.store.CloseSession(ctx, session.ID, interfaces.OutcomeSuccess, now)
	if err != nil || !won {
		cryptoutils.Wipe(payload)
		if err != nil {
			return ReleaseResult{}, err
		}
		return ReleaseResult{}, fmt.Errorf("%w: session closed concurrently", interfaces.ErrSessionExpired)
	}
	s.stopTimer(session.ID)

	s.record(ctx, interfaces.AuditRecord{
		AccountID:    session.AccountID,
		SealedItemID: item.ID,
		SessionID:    session.ID,
		ActorID:      actorID,
		Action:       interfaces.AuditQuorumReached,
		Result:       string(interfaces.OutcomeSuccess),
		Timestamp:    now,
	})
	if _, err := s.store.TransitionItemStatus(ctx, item.ID, interfaces.ItemUnsealing, interfaces.ItemUnsealed); err != nil {
		s.log.Error("failed to mark item unsealed", slog.String("item", item.ID.String()), "err", err)
	}
	s.metrics.UnlockSession(string(interfaces.OutcomeSuccess))

	if len(session.DeliveryPublicKey) > 0 {
		envelope, err := cryptoutils.EncryptWithPublicKey(session.DeliveryPublicKey, payload)
		if err == nil {
			err = s.store.SetDeliveryEnvelope(ctx, session.ID, envelope)
		}
		if err != nil {
			s.log.Error("failed to prepare delivery envelope", slog.String("session", session.ID.String()), "err", err)
		}
	}

	s.log.Info("quorum reached, payload unsealed",
		slog.String("session", session.ID.String()),
		slog.String("item", item.ID.String()))

	session.Outcome = interfaces.OutcomeSuccess
	session.ClosedAt = &now
	return ReleaseResult{Session: session, ShardsRequired: item.ShardsRequired, Payload: payload}, nil
}

func (s *Service) reconstruct(ctx context.Context, session interfaces.UnlockSession, item interfaces.SealedItem) ([]byte, error) {
	approved, err := s.store.ListApprovedReleases(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	rec := kms.NewReconstructor(item.ShardsRequired)
	for _, r := range approved {
		share, err := s.sealer.Open(ctx, r.GuardianID, r.SealedShare)
		if err != nil {
			return nil, fmt.Errorf("failed to open released share of %s: %w", r.GuardianID, err)
		}
		if err := rec.Submit(r.GuardianID, share); err != nil {
			return nil, err
		}
	}

	key, err := rec.Reconstruct()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Wipe(key)

	ciphertext, err := s.blobs.Fetch(ctx, item.PayloadRef, item.Type.ContentType())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payload: %w", err)
	}
	return cryptoutils.OpenAESGCM(key, ciphertext, item.ID[:])
}

// GetSession returns the session's current state, expiring it first if its
// deadline has passed.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (SessionStatus, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	item, err := s.store.GetSealedItem(ctx, session.SealedItemID)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{Session: session, ShardsRequired: item.ShardsRequired, ItemStatus: item.Status}, nil
}

// CollectPayload hands out the session's delivery envelope exactly once.
// The envelope can only be opened with the beneficiary's delivery private key.
func (s *Service) CollectPayload(ctx context.Context, sessionID, beneficiaryID uuid.UUID) ([]byte, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.BeneficiaryID != beneficiaryID {
		return nil, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, sessionID)
	}
	if len(session.DeliveryPublicKey) == 0 {
		return nil, fmt.Errorf("%w: session has no delivery key", interfaces.ErrNotFound)
	}

	switch session.Outcome {
	case interfaces.OutcomePending:
		return nil, fmt.Errorf("%w: %d shares released", interfaces.ErrQuorumNotMet, session.ReleasedShardCount)
	case interfaces.OutcomeSuccess:
	default:
		s.record(ctx, interfaces.AuditRecord{
			AccountID:    session.AccountID,
			SealedItemID: session.SealedItemID,
			SessionID:    session.ID,
			ActorID:      beneficiaryID,
			Action:       interfaces.AuditReleaseRejected,
			Result:       rejectSessionClosed,
		})
		return nil, fmt.Errorf("%w: session is %s", interfaces.ErrSessionExpired, session.Outcome)
	}

	envelope, err := s.store.TakeDeliveryEnvelope(ctx, sessionID)
	if errors.Is(err, interfaces.ErrSessionExpired) {
		s.record(ctx, interfaces.AuditRecord{
			AccountID:    session.AccountID,
			SealedItemID: session.SealedItemID,
			SessionID:    session.ID,
			ActorID:      beneficiaryID,
			Action:       interfaces.AuditReleaseRejected,
			Result:       rejectAlreadyTaken,
		})
		return nil, err
	} else if err != nil {
		return nil, err
	}

	s.record(ctx, interfaces.AuditRecord{
		AccountID:    session.AccountID,
		SealedItemID: session.SealedItemID,
		SessionID:    session.ID,
		ActorID:      beneficiaryID,
		Action:       interfaces.AuditPayloadDelivered,
		Result:       "delivered",
	})
	return envelope, nil
}
