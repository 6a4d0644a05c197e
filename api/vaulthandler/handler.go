package vaulthandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/api"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/token"
	"github.com/ruteri/soulbox-vault/vault"
)

const (
	// maxBodySize limits JSON request bodies (1MB).
	maxBodySize = 1024 * 1024
	// maxSealBodySize limits item uploads, whose payload is base64 encoded (32MB).
	maxSealBodySize = 32 * 1024 * 1024
)

// VaultService is the part of vault.Service the handler needs.
type VaultService interface {
	AddGuardian(ctx context.Context, accountID uuid.UUID, in vault.GuardianInput) (interfaces.Guardian, error)
	UpdateGuardian(ctx context.Context, accountID, id uuid.UUID, name, email string) (interfaces.Guardian, error)
	DeleteGuardian(ctx context.Context, accountID, id uuid.UUID) error
	ListGuardians(ctx context.Context, accountID uuid.UUID) ([]interfaces.Guardian, error)

	AddBeneficiary(ctx context.Context, accountID uuid.UUID, in vault.BeneficiaryInput) (interfaces.Beneficiary, string, error)
	ListBeneficiaries(ctx context.Context, accountID uuid.UUID) ([]interfaces.Beneficiary, error)
	DeleteBeneficiary(ctx context.Context, accountID, id uuid.UUID) error
	SendToken(ctx context.Context, accountID, id uuid.UUID, method interfaces.DeliveryMethod) error

	CreateSealedItem(ctx context.Context, accountID uuid.UUID, in vault.SealInput) (interfaces.SealedItem, error)
	ListSealedItems(ctx context.Context, accountID uuid.UUID) ([]interfaces.SealedItem, error)
	QueryBySealedItem(ctx context.Context, accountID, itemID uuid.UUID) ([]interfaces.AuditRecord, error)

	VerifyIdentity(ctx context.Context, in vault.VerifyInput) (vault.VerifyResult, error)
	RequestShardRelease(ctx context.Context, sessionID, guardianID uuid.UUID) (interfaces.ReleaseRequest, error)
	ReleaseShare(ctx context.Context, in vault.ReleaseInput) (vault.ReleaseResult, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (vault.SessionStatus, error)
	CollectPayload(ctx context.Context, sessionID, beneficiaryID uuid.UUID) ([]byte, error)
}

var _ VaultService = (*vault.Service)(nil)

// Handler serves the vault API.
type Handler struct {
	svc    VaultService
	tokens TokenParser
	log    *slog.Logger
}

func NewHandler(svc VaultService, tokens TokenParser, log *slog.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, log: log}
}

// RegisterRoutes mounts the vault API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireRole(token.RoleCreator))

		r.Post("/guardians", h.HandleAddGuardian)
		r.Get("/guardians", h.HandleListGuardians)
		r.Put("/guardians/{id}", h.HandleUpdateGuardian)
		r.Delete("/guardians/{id}", h.HandleDeleteGuardian)

		r.Post("/beneficiaries", h.HandleAddBeneficiary)
		r.Get("/beneficiaries", h.HandleListBeneficiaries)
		r.Delete("/beneficiaries/{id}", h.HandleDeleteBeneficiary)
		r.Post("/beneficiaries/{id}/send-token", h.HandleSendToken)

		r.Post("/vault/items", h.HandleSealItem)
		r.Get("/vault/items", h.HandleListItems)
		r.Get("/vault/items/{id}/audit", h.HandleItemAudit)
	})

	r.Post("/vault/verify-identity", h.HandleVerifyIdentity)

	r.With(h.requireRole(token.RoleBeneficiary)).Post("/vault/sessions/{id}/request-release", h.HandleRequestRelease)
	r.With(h.requireRole(token.RoleBeneficiary, token.RoleGuardian)).Get("/vault/sessions/{id}", h.HandleGetSession)
	r.With(h.requireRole(token.RoleBeneficiary)).Get("/vault/sessions/{id}/payload", h.HandleCollectPayload)
	r.With(h.requireRole(token.RoleGuardian)).Post("/vault/sessions/{id}/release", h.HandleRelease)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &RequestError{http.StatusRequestEntityTooLarge, fmt.Errorf("%w: request body too large", interfaces.ErrValidation)}
		}
		return fmt.Errorf("%w: invalid request body", interfaces.ErrValidation)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", interfaces.ErrValidation)
	}
	return id, nil
}

// sessionFromPath returns the session id in the URL after checking that the
// caller's token is bound to it.
func sessionFromPath(r *http.Request) (uuid.UUID, *token.Claims, error) {
	sessionID, err := pathID(r)
	if err != nil {
		return uuid.Nil, nil, err
	}
	claims := claimsFrom(r.Context())
	if claims == nil || claims.SessionID != sessionID {
		return uuid.Nil, nil, forbidden("token is not valid for this session")
	}
	return sessionID, claims, nil
}

// --- Guardians ---

func (h *Handler) HandleAddGuardian(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req api.GuardianRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, true)
		return
	}

	g, err := h.svc.AddGuardian(r.Context(), claims.AccountID, vault.GuardianInput{
		Name:      req.Name,
		Email:     req.Email,
		PublicKey: []byte(req.PublicKey),
	})
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) HandleListGuardians(w http.ResponseWriter, r *http.Request) {
	guardians, err := h.svc.ListGuardians(r.Context(), claimsFrom(r.Context()).AccountID)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	if guardians == nil {
		guardians = []interfaces.Guardian{}
	}
	writeJSON(w, http.StatusOK, guardians)
}

func (h *Handler) HandleUpdateGuardian(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}

	var req api.GuardianRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, true)
		return
	}

	g, err := h.svc.UpdateGuardian(r.Context(), claimsFrom(r.Context()).AccountID, id, req.Name, req.Email)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) HandleDeleteGuardian(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	if err := h.svc.DeleteGuardian(r.Context(), claimsFrom(r.Context()).AccountID, id); err != nil {
		writeError(w, h.log, err, true)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Beneficiaries ---

func (h *Handler) HandleAddBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req api.BeneficiaryRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, true)
		return
	}

	b, secretToken, err := h.svc.AddBeneficiary(r.Context(), claimsFrom(r.Context()).AccountID, vault.BeneficiaryInput{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
		Relationship:   req.Relationship,
		SecretQuestion: req.SecretQuestion,
		IDNumber:       req.IDNumber,
	})
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	writeJSON(w, http.StatusCreated, api.BeneficiaryCreated{Beneficiary: b, SecretToken: secretToken})
}

func (h *Handler) HandleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	beneficiaries, err := h.svc.ListBeneficiaries(r.Context(), claimsFrom(r.Context()).AccountID)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	if beneficiaries == nil {
		beneficiaries = []interfaces.Beneficiary{}
	}
	writeJSON(w, http.StatusOK, beneficiaries)
}

func (h *Handler) HandleDeleteBeneficiary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	if err := h.svc.DeleteBeneficiary(r.Context(), claimsFrom(r.Context()).AccountID, id); err != nil {
		writeError(w, h.log, err, true)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSendToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}

	var req api.SendTokenRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, true)
		return
	}

	if err := h.svc.SendToken(r.Context(), claimsFrom(r.Context()).AccountID, id, req.Method); err != nil {
		writeError(w, h.log, err, true)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Items ---

func (h *Handler) HandleSealItem(w http.ResponseWriter, r *http.Request) {
	var req api.SealRequest
	if err := decodeBody(w, r, maxSealBodySize, &req); err != nil {
		writeError(w, h.log, err, true)
		return
	}

	item, err := h.svc.CreateSealedItem(r.Context(), claimsFrom(r.Context()).AccountID, vault.SealInput{
		Title:          req.Title,
		Description:    req.Description,
		Type:           req.Type,
		Payload:        req.Payload,
		ShardsRequired: req.ShardsRequired,
		GuardianIDs:    req.GuardianIDs,
	})
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSealedItems(r.Context(), claimsFrom(r.Context()).AccountID)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	if items == nil {
		items = []interfaces.SealedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleItemAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}

	records, err := h.svc.QueryBySealedItem(r.Context(), claimsFrom(r.Context()).AccountID, id)
	if err != nil {
		writeError(w, h.log, err, true)
		return
	}
	if records == nil {
		records = []interfaces.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Unlock ---

func (h *Handler) HandleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyIdentityRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, false)
		return
	}
	// The payload only ever leaves the server as an envelope for this key.
	if req.DeliveryPublicKey == "" {
		writeError(w, h.log, fmt.Errorf("%w: deliveryPublicKey is required", interfaces.ErrValidation), false)
		return
	}

	res, err := h.svc.VerifyIdentity(r.Context(), vault.VerifyInput{
		BeneficiaryID:     req.BeneficiaryID,
		SealedItemID:      req.ItemID,
		FullName:          req.FullName,
		IDNumber:          req.IDNumber,
		SecretToken:       req.SecretToken,
		DeliveryPublicKey: []byte(req.DeliveryPublicKey),
	})
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}

	writeJSON(w, http.StatusOK, api.VerifyIdentityResponse{
		SessionID: res.SessionID,
		Verified:  res.Verified,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *Handler) HandleRequestRelease(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := sessionFromPath(r)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}

	var req api.RequestReleaseRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, false)
		return
	}

	release, err := h.svc.RequestShardRelease(r.Context(), sessionID, req.GuardianID)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}
	writeJSON(w, http.StatusAccepted, release)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := sessionFromPath(r)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}

	status, err := h.svc.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(status.Session, status.ShardsRequired, status.ItemStatus))
}

func (h *Handler) HandleCollectPayload(w http.ResponseWriter, r *http.Request) {
	sessionID, claims, err := sessionFromPath(r)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}

	envelope, err := h.svc.CollectPayload(r.Context(), sessionID, claims.BeneficiaryID)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}
	writeJSON(w, http.StatusOK, api.PayloadResponse{Envelope: envelope})
}

// HandleRelease records a guardian's decision. The decrypted payload of a
// completing release stays on the server; the beneficiary collects it as an
// envelope.
func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	sessionID, claims, err := sessionFromPath(r)
	if err != nil {
		writeError(w, h.log, err, false)
		return
	}

	var req api.ReleaseRequestBody
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		writeError(w, h.log, err, false)
		return
	}
	if req.GuardianID != claims.GuardianID {
		writeError(w, h.log, forbidden("token is not valid for this guardian"), false)
		return
	}

	result, err := h.svc.ReleaseShare(r.Context(), vault.ReleaseInput{
		SessionID:  sessionID,
		GuardianID: req.GuardianID,
		Approve:    req.Approve,
		Share:      req.Share,
	})
	for i := range result.Payload {
		result.Payload[i] = 0
	}

	switch {
	case errors.Is(err, interfaces.ErrQuorumNotMet):
		resp := sessionResponse(result.Session, result.ShardsRequired, interfaces.ItemUnsealing)
		resp.Message = interfaces.ErrQuorumNotMet.Error()
		writeJSON(w, http.StatusAccepted, resp)
	case err != nil:
		writeError(w, h.log, err, false)
	default:
		status := interfaces.ItemSealed
		switch result.Session.Outcome {
		case interfaces.OutcomeSuccess:
			status = interfaces.ItemUnsealed
		case interfaces.OutcomePending:
			status = interfaces.ItemUnsealing
		}
		writeJSON(w, http.StatusOK, sessionResponse(result.Session, result.ShardsRequired, status))
	}
}

func sessionResponse(s interfaces.UnlockSession, shardsRequired int, status interfaces.ItemStatus) api.SessionStatusResponse {
	return api.SessionStatusResponse{
		SessionID:          s.ID,
		ItemID:             s.SealedItemID,
		Status:             status,
		ReleasedShardCount: s.ReleasedShardCount,
		ShardsRequired:     shardsRequired,
		Outcome:            s.Outcome,
		ExpiresAt:          s.ExpiresAt,
	}
}
