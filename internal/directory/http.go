package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/hashicorp/go-retryablehttp"
)

// Error codes carried in JSON error bodies.
const (
	codeNotAuthenticated  = "not_authenticated"
	codePublicKeyNotFound = "public_key_not_found"
	codeInviteNotFound    = "invite_not_found"
	codeInviteExpired     = "invite_expired"
	codeInviteNotPending  = "invite_not_pending"
	codeInvalidRequest    = "invalid_request"
	codeInternal          = "internal"
)

var errorCodes = map[string]error{
	codeNotAuthenticated:  kerrors.ErrNotAuthenticated,
	codePublicKeyNotFound: kerrors.ErrPublicKeyNotFound,
	codeInviteNotFound:    kerrors.ErrInviteNotFound,
	codeInviteExpired:     kerrors.ErrInviteExpired,
	codeInviteNotPending:  kerrors.ErrInviteNotPending,
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type statusBody struct {
	Status Status `json:"status"`
}

// TokenSource returns the bearer token for a request.
type TokenSource func(ctx context.Context) (string, error)

// HTTPDirectory is a Directory served over HTTP by Handler.
// Transport failures are retried; the crypto payloads are never touched.
type HTTPDirectory struct {
	baseURL string
	token   TokenSource
	client  *retryablehttp.Client
}

// HTTPOptions tunes the client's retry policy.
type HTTPOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

func NewHTTPDirectory(baseURL string, token TokenSource, opts HTTPOptions) (*HTTPDirectory, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("no directory URL configured: %w", kerrors.ErrDirectoryNotConfigured)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid directory URL %q: %w", baseURL, kerrors.ErrDirectoryNotConfigured)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RetryMax = 3
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.HTTPClient.Timeout = 30 * time.Second
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}

	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}, nil
}

func (d *HTTPDirectory) do(ctx context.Context, method, path string, in, out any) error {
	var body interface{}
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = encoded
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.token != nil {
		token, err := d.token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e errorBody
	if err := json.Unmarshal(data, &e); err == nil {
		if sentinel, ok := errorCodes[e.Error]; ok {
			return fmt.Errorf("%s: %w", e.Message, sentinel)
		}
		if e.Message != "" {
			return fmt.Errorf("directory returned %d: %s", resp.StatusCode, e.Message)
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("directory returned 401: %w", kerrors.ErrNotAuthenticated)
	}
	return fmt.Errorf("directory returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
}

func (d *HTTPDirectory) PublishPublicKey(ctx context.Context, key UserKey) error {
	if err := validateUserKey(&key); err != nil {
		return err
	}
	return d.do(ctx, http.MethodPut, "/v1/users/"+url.PathEscape(key.UserID)+"/public-key", key, nil)
}

func (d *HTTPDirectory) LookupPublicKey(ctx context.Context, email string) (*UserKey, error) {
	var key UserKey
	q := url.Values{"email": {email}}
	if err := d.do(ctx, http.MethodGet, "/v1/public-keys?"+q.Encode(), nil, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (d *HTTPDirectory) SubmitInvite(ctx context.Context, invite InviteRecord) error {
	if err := validateInvite(&invite); err != nil {
		return err
	}
	return d.do(ctx, http.MethodPost, "/v1/invites", invite, nil)
}

func (d *HTTPDirectory) FetchInvite(ctx context.Context, inviteCode string) (*Bundle, error) {
	var bundle Bundle
	if err := d.do(ctx, http.MethodGet, "/v1/invites/"+url.PathEscape(inviteCode), nil, &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (d *HTTPDirectory) UpdateInviteStatus(ctx context.Context, inviteCode string, status Status) error {
	return d.do(ctx, http.MethodPatch, "/v1/invites/"+url.PathEscape(inviteCode), statusBody{Status: status}, nil)
}

func (d *HTTPDirectory) ListInvites(ctx context.Context, familyID string) ([]InviteRecord, error) {
	var invites []InviteRecord
	if err := d.do(ctx, http.MethodGet, "/v1/families/"+url.PathEscape(familyID)+"/invites", nil, &invites); err != nil {
		return nil, err
	}
	if invites == nil {
		invites = []InviteRecord{}
	}
	return invites, nil
}
