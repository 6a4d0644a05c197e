package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/api"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// APIError is a non-success response from the vault API. It unwraps to the
// interfaces sentinel matching its status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return interfaces.ErrValidation
	case http.StatusNotFound:
		return interfaces.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		if e.Message == interfaces.ErrIdentityMismatch.Error() {
			return interfaces.ErrIdentityMismatch
		}
		return interfaces.ErrUnauthorized
	case http.StatusUnprocessableEntity:
		return interfaces.ErrCrypto
	case http.StatusGone:
		return interfaces.ErrSessionExpired
	case http.StatusAccepted:
		return interfaces.ErrQuorumNotMet
	case http.StatusTooManyRequests:
		return interfaces.ErrRateLimited
	case http.StatusServiceUnavailable:
		return interfaces.ErrBackendUnavailable
	}
	return nil
}

// VaultClient calls the vault API with a bearer token.
type VaultClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewVaultClient creates a client for the API at baseURL. The token may be
// empty for the public verify-identity endpoint.
func NewVaultClient(baseURL, token string, timeout ...time.Duration) *VaultClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &VaultClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// WithToken returns a copy of the client using another bearer token.
func (c *VaultClient) WithToken(token string) *VaultClient {
	clone := *c
	clone.token = token
	return &clone
}

// do sends body as JSON and decodes the response into out. A status not in
// wantStatus is returned as an *APIError.
func (c *VaultClient) do(ctx context.Context, method, path string, body, out any, wantStatus ...int) error {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if !slices.Contains(wantStatus, resp.StatusCode) {
		raw, _ := io.ReadAll(resp.Body)
		var errResp api.ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// --- Creator ---

func (c *VaultClient) AddGuardian(ctx context.Context, req api.GuardianRequest) (interfaces.Guardian, error) {
	var g interfaces.Guardian
	err := c.do(ctx, http.MethodPost, "/guardians", req, &g, http.StatusCreated)
	return g, err
}

func (c *VaultClient) UpdateGuardian(ctx context.Context, id uuid.UUID, req api.GuardianRequest) (interfaces.Guardian, error) {
	var g interfaces.Guardian
	err := c.do(ctx, http.MethodPut, "/guardians/"+id.String(), req, &g, http.StatusOK)
	return g, err
}

func (c *VaultClient) ListGuardians(ctx context.Context) ([]interfaces.Guardian, error) {
	var out []interfaces.Guardian
	err := c.do(ctx, http.MethodGet, "/guardians", nil, &out, http.StatusOK)
	return out, err
}

// DeleteGuardian removes the guardian and revokes all of its shards.
func (c *VaultClient) DeleteGuardian(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/guardians/"+id.String(), nil, nil, http.StatusNoContent)
}

// AddBeneficiary returns the beneficiary together with its secret token. The
// token is not retrievable later.
func (c *VaultClient) AddBeneficiary(ctx context.Context, req api.BeneficiaryRequest) (api.BeneficiaryCreated, error) {
	var out api.BeneficiaryCreated
	err := c.do(ctx, http.MethodPost, "/beneficiaries", req, &out, http.StatusCreated)
	return out, err
}

func (c *VaultClient) ListBeneficiaries(ctx context.Context) ([]interfaces.Beneficiary, error) {
	var out []interfaces.Beneficiary
	err := c.do(ctx, http.MethodGet, "/beneficiaries", nil, &out, http.StatusOK)
	return out, err
}

func (c *VaultClient) DeleteBeneficiary(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/beneficiaries/"+id.String(), nil, nil, http.StatusNoContent)
}

// SendToken rotates the beneficiary's secret token and delivers it over method.
func (c *VaultClient) SendToken(ctx context.Context, id uuid.UUID, method interfaces.DeliveryMethod) error {
	return c.do(ctx, http.MethodPost, "/beneficiaries/"+id.String()+"/send-token", api.SendTokenRequest{Method: method}, nil, http.StatusNoContent)
}

func (c *VaultClient) SealItem(ctx context.Context, req api.SealRequest) (interfaces.SealedItem, error) {
	var item interfaces.SealedItem
	err := c.do(ctx, http.MethodPost, "/vault/items", req, &item, http.StatusCreated)
	return item, err
}

func (c *VaultClient) ListItems(ctx context.Context) ([]interfaces.SealedItem, error) {
	var out []interfaces.SealedItem
	err := c.do(ctx, http.MethodGet, "/vault/items", nil, &out, http.StatusOK)
	return out, err
}

func (c *VaultClient) ItemAudit(ctx context.Context, itemID uuid.UUID) ([]interfaces.AuditRecord, error) {
	var out []interfaces.AuditRecord
	err := c.do(ctx, http.MethodGet, "/vault/items/"+itemID.String()+"/audit", nil, &out, http.StatusOK)
	return out, err
}

// --- Unlock ---

// VerifyIdentity opens an unlock session. It needs no token.
func (c *VaultClient) VerifyIdentity(ctx context.Context, req api.VerifyIdentityRequest) (api.VerifyIdentityResponse, error) {
	var out api.VerifyIdentityResponse
	err := c.do(ctx, http.MethodPost, "/vault/verify-identity", req, &out, http.StatusOK)
	return out, err
}

// RequestRelease asks a guardian to release its share. Requires a beneficiary token.
func (c *VaultClient) RequestRelease(ctx context.Context, sessionID, guardianID uuid.UUID) (interfaces.ReleaseRequest, error) {
	var out interfaces.ReleaseRequest
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/request-release", api.RequestReleaseRequest{GuardianID: guardianID}, &out, http.StatusAccepted)
	return out, err
}

// Release submits a guardian's decision. Requires a guardian token. A release
// accepted below quorum is not an error; the returned status carries the
// message "insufficient approvals".
func (c *VaultClient) Release(ctx context.Context, sessionID uuid.UUID, req api.ReleaseRequestBody) (api.SessionStatusResponse, error) {
	var out api.SessionStatusResponse
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/release", req, &out, http.StatusOK, http.StatusAccepted)
	return out, err
}

func (c *VaultClient) SessionStatus(ctx context.Context, sessionID uuid.UUID) (api.SessionStatusResponse, error) {
	var out api.SessionStatusResponse
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, &out, http.StatusOK)
	return out, err
}

// CollectPayload fetches the ECIES envelope of a successful session. It
// returns an error wrapping interfaces.ErrQuorumNotMet while the session is pending.
func (c *VaultClient) CollectPayload(ctx context.Context, sessionID uuid.UUID) ([]byte, error) {
	var out api.PayloadResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/payload", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Envelope, nil
}

func sessionPath(id uuid.UUID) string {
	return "/vault/sessions/" + id.String()
}
