// Package memstore is a thread-safe in-memory interfaces.VaultStore for
// development and tests. All state is lost when the process exits.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

var _ interfaces.VaultStore = (*Store)(nil)

type releaseKey struct {
	session  uuid.UUID
	guardian uuid.UUID
}

type shardKey struct {
	item     uuid.UUID
	guardian uuid.UUID
}

// Store keeps every entity in maps guarded by a single RWMutex. Compare-and-set
// operations run under the write lock so at most one caller wins a transition.
type Store struct {
	mu sync.RWMutex

	guardians     map[uuid.UUID]interfaces.Guardian
	beneficiaries map[uuid.UUID]interfaces.Beneficiary
	items         map[uuid.UUID]interfaces.SealedItem
	shards        map[shardKey]interfaces.ShardRecord
	sessions      map[uuid.UUID]interfaces.UnlockSession
	releases      map[releaseKey]interfaces.ReleaseRequest
	claims        map[uuid.UUID]time.Time
	audit         []interfaces.AuditRecord
	auditSeq      int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		guardians:     make(map[uuid.UUID]interfaces.Guardian),
		beneficiaries: make(map[uuid.UUID]interfaces.Beneficiary),
		items:         make(map[uuid.UUID]interfaces.SealedItem),
		shards:        make(map[shardKey]interfaces.ShardRecord),
		sessions:      make(map[uuid.UUID]interfaces.UnlockSession),
		releases:      make(map[releaseKey]interfaces.ReleaseRequest),
		claims:        make(map[uuid.UUID]time.Time),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// --- Guardians ---

func (s *Store) CreateGuardian(ctx context.Context, g interfaces.Guardian) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guardians[g.ID]; ok {
		return fmt.Errorf("%w: guardian %s already exists", interfaces.ErrValidation, g.ID)
	}
	s.guardians[g.ID] = cloneGuardian(g)
	return nil
}

func (s *Store) UpdateGuardian(ctx context.Context, g interfaces.Guardian) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.guardians[g.ID]
	if !ok || current.AccountID != g.AccountID {
		return fmt.Errorf("%w: guardian %s", interfaces.ErrNotFound, g.ID)
	}
	current.Name = g.Name
	current.Email = g.Email
	current.UpdatedAt = g.UpdatedAt
	s.guardians[g.ID] = current
	return nil
}

func (s *Store) GetGuardian(ctx context.Context, id uuid.UUID) (interfaces.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.guardians[id]
	if !ok {
		return interfaces.Guardian{}, fmt.Errorf("%w: guardian %s", interfaces.ErrNotFound, id)
	}
	return cloneGuardian(g), nil
}

func (s *Store) ListGuardians(ctx context.Context, accountID uuid.UUID) ([]interfaces.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.Guardian
	for _, g := range s.guardians {
		if g.AccountID == accountID {
			out = append(out, cloneGuardian(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (s *Store) DeleteGuardian(ctx context.Context, accountID, id uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guardians[id]
	if !ok || g.AccountID != accountID {
		return nil, nil
	}
	delete(s.guardians, id)

	var revoked []uuid.UUID
	for key, shard := range s.shards {
		if key.guardian != id || shard.Revoked {
			continue
		}
		revokedAt := at
		shard.Revoked = true
		shard.RevokedAt = &revokedAt
		s.shards[key] = shard
		revoked = append(revoked, key.item)
	}
	sort.Slice(revoked, func(i, j int) bool {
		return bytes.Compare(revoked[i][:], revoked[j][:]) < 0
	})
	return revoked, nil
}

// --- Beneficiaries ---

func (s *Store) CreateBeneficiary(ctx context.Context, b interfaces.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.beneficiaries[b.ID]; ok {
		return fmt.Errorf("%w: beneficiary %s already exists", interfaces.ErrValidation, b.ID)
	}
	s.beneficiaries[b.ID] = cloneBeneficiary(b)
	return nil
}

func (s *Store) GetBeneficiary(ctx context.Context, id uuid.UUID) (interfaces.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.beneficiaries[id]
	if !ok {
		return interfaces.Beneficiary{}, fmt.Errorf("%w: beneficiary %s", interfaces.ErrNotFound, id)
	}
	return cloneBeneficiary(b), nil
}

func (s *Store) ListBeneficiaries(ctx context.Context, accountID uuid.UUID) ([]interfaces.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.Beneficiary
	for _, b := range s.beneficiaries {
		if b.AccountID == accountID {
			out = append(out, cloneBeneficiary(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (s *Store) UpdateSecretToken(ctx context.Context, accountID, id uuid.UUID, tokenHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beneficiaries[id]
	if !ok || b.AccountID != accountID {
		return fmt.Errorf("%w: beneficiary %s", interfaces.ErrNotFound, id)
	}
	b.SecretTokenHash = slices.Clone(tokenHash)
	s.beneficiaries[id] = b
	return nil
}

func (s *Store) DeleteBeneficiary(ctx context.Context, accountID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.beneficiaries[id]; ok && b.AccountID == accountID {
		delete(s.beneficiaries, id)
	}
	return nil
}

// --- Sealed items ---

func (s *Store) CreateSealedItem(ctx context.Context, item interfaces.SealedItem, shards []interfaces.ShardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("%w: sealed item %s already exists", interfaces.ErrValidation, item.ID)
	}
	for _, shard := range shards {
		if shard.SealedItemID != item.ID {
			return fmt.Errorf("%w: shard belongs to item %s", interfaces.ErrValidation, shard.SealedItemID)
		}
		if _, ok := s.shards[shardKey{item.ID, shard.GuardianID}]; ok {
			return fmt.Errorf("%w: duplicate shard for guardian %s", interfaces.ErrValidation, shard.GuardianID)
		}
	}

	s.items[item.ID] = cloneItem(item)
	for _, shard := range shards {
		s.shards[shardKey{item.ID, shard.GuardianID}] = cloneShard(shard)
	}
	return nil
}

func (s *Store) GetSealedItem(ctx context.Context, id uuid.UUID) (interfaces.SealedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return interfaces.SealedItem{}, fmt.Errorf("%w: sealed item %s", interfaces.ErrNotFound, id)
	}
	return cloneItem(item), nil
}

func (s *Store) ListSealedItems(ctx context.Context, accountID uuid.UUID) ([]interfaces.SealedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.SealedItem
	for _, item := range s.items {
		if item.AccountID == accountID {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (s *Store) TransitionItemStatus(ctx context.Context, id uuid.UUID, from, to interfaces.ItemStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false, fmt.Errorf("%w: sealed item %s", interfaces.ErrNotFound, id)
	}
	if item.Status != from {
		return false, nil
	}
	item.Status = to
	s.items[id] = item
	return true, nil
}

func (s *Store) RevertItemStatus(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: sealed item %s", interfaces.ErrNotFound, id)
	}
	if item.Status != interfaces.ItemUnsealing {
		return nil
	}
	for _, session := range s.sessions {
		if session.SealedItemID == id && session.Outcome == interfaces.OutcomePending {
			return nil
		}
	}
	item.Status = interfaces.ItemSealed
	s.items[id] = item
	return nil
}

func (s *Store) GetShard(ctx context.Context, itemID, guardianID uuid.UUID) (interfaces.ShardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shard, ok := s.shards[shardKey{itemID, guardianID}]
	if !ok {
		return interfaces.ShardRecord{}, fmt.Errorf("%w: no shard of item %s for guardian %s", interfaces.ErrNotFound, itemID, guardianID)
	}
	return cloneShard(shard), nil
}

func (s *Store) ListShards(ctx context.Context, itemID uuid.UUID) ([]interfaces.ShardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.ShardRecord
	for key, shard := range s.shards {
		if key.item == itemID {
			out = append(out, cloneShard(shard))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShareIndex < out[j].ShareIndex })
	return out, nil
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, session interfaces.UnlockSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", interfaces.ErrValidation, session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (interfaces.UnlockSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return interfaces.UnlockSession{}, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, id)
	}
	return cloneSession(session), nil
}

func (s *Store) CloseSession(ctx context.Context, id uuid.UUID, outcome interfaces.Outcome, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, id)
	}
	if session.Outcome != interfaces.OutcomePending {
		return false, nil
	}
	closedAt := at
	session.Outcome = outcome
	session.ClosedAt = &closedAt
	s.sessions[id] = session
	return true, nil
}

func (s *Store) ClaimSession(ctx context.Context, id uuid.UUID, at time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, id)
	}
	if session.Outcome != interfaces.OutcomePending {
		return false, nil
	}
	if claimedAt, held := s.claims[id]; held && !claimedAt.Before(at.Add(-lease)) {
		return false, nil
	}
	s.claims[id] = at
	return true, nil
}

func (s *Store) ListPendingSessions(ctx context.Context) ([]interfaces.UnlockSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.UnlockSession
	for _, session := range s.sessions {
		if session.Outcome == interfaces.OutcomePending {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) SetDeliveryEnvelope(ctx context.Context, id uuid.UUID, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", interfaces.ErrNotFound, id)
	}
	session.DeliveryEnvelope = slices.Clone(envelope)
	s.sessions[id] = session
	return nil
}

func (s *Store) TakeDeliveryEnvelope(ctx context.Context, id uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, id)
	}
	if session.Delivered {
		return nil, fmt.Errorf("%w: payload already collected", interfaces.ErrSessionExpired)
	}
	if len(session.DeliveryEnvelope) == 0 {
		return nil, fmt.Errorf("%w: no payload awaiting collection", interfaces.ErrNotFound)
	}

	envelope := session.DeliveryEnvelope
	session.DeliveryEnvelope = nil
	session.Delivered = true
	s.sessions[id] = session
	return envelope, nil
}

func (s *Store) CreateReleaseRequest(ctx context.Context, r interfaces.ReleaseRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[r.SessionID]; !ok {
		return false, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, r.SessionID)
	}
	key := releaseKey{r.SessionID, r.GuardianID}
	if _, ok := s.releases[key]; ok {
		return false, nil
	}
	s.releases[key] = cloneRelease(r)
	return true, nil
}

func (s *Store) GetReleaseRequest(ctx context.Context, sessionID, guardianID uuid.UUID) (interfaces.ReleaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.releases[releaseKey{sessionID, guardianID}]
	if !ok {
		return interfaces.ReleaseRequest{}, fmt.Errorf("%w: no release request for guardian %s", interfaces.ErrNotFound, guardianID)
	}
	return cloneRelease(r), nil
}

func (s *Store) DecideReleaseRequest(ctx context.Context, sessionID, guardianID uuid.UUID, decision interfaces.Decision, sealedShare []byte, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := releaseKey{sessionID, guardianID}
	r, ok := s.releases[key]
	if !ok {
		return 0, fmt.Errorf("%w: no release request for guardian %s", interfaces.ErrNotFound, guardianID)
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: session %s", interfaces.ErrNotFound, sessionID)
	}
	if session.Outcome != interfaces.OutcomePending {
		return session.ReleasedShardCount, fmt.Errorf("%w: session is %s", interfaces.ErrSessionExpired, session.Outcome)
	}
	if r.Decision != interfaces.DecisionPending {
		return session.ReleasedShardCount, fmt.Errorf("%w: release already %s", interfaces.ErrValidation, r.Decision)
	}

	decidedAt := at
	r.Decision = decision
	r.DecidedAt = &decidedAt
	if decision == interfaces.DecisionApproved {
		r.SealedShare = slices.Clone(sealedShare)
		session.ReleasedShardCount++
		s.sessions[sessionID] = session

		sk := shardKey{session.SealedItemID, guardianID}
		if shard, ok := s.shards[sk]; ok && shard.ReleasedAt == nil {
			releasedAt := at
			shard.ReleasedAt = &releasedAt
			s.shards[sk] = shard
		}
	}
	s.releases[key] = r
	return session.ReleasedShardCount, nil
}

func (s *Store) ListApprovedReleases(ctx context.Context, sessionID uuid.UUID) ([]interfaces.ReleaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.ReleaseRequest
	for key, r := range s.releases {
		if key.session == sessionID && r.Decision == interfaces.DecisionApproved {
			out = append(out, cloneRelease(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(*out[j].DecidedAt) })
	return out, nil
}

// --- Audit ---

func (s *Store) AppendAudit(ctx context.Context, r interfaces.AuditRecord) (interfaces.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditSeq++
	r.ID = s.auditSeq
	s.audit = append(s.audit, r)
	return r, nil
}

func (s *Store) ListAuditByItem(ctx context.Context, accountID, itemID uuid.UUID) ([]interfaces.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.AuditRecord
	for _, r := range s.audit {
		if r.AccountID == accountID && r.SealedItemID == itemID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
