package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	logger "github.com/PolarWolf314/whanau/internal/logging"
)

// HandlerOptions configures Handler.
type HandlerOptions struct {
	// Authorize validates a bearer token. When nil any non-empty token is accepted.
	Authorize func(token string) bool

	Logger logger.Logger

	// Metrics, if set, records per-route request counts and latency.
	Metrics *Metrics
}

// Handler serves a Directory over HTTP for HTTPDirectory clients.
// Every route requires a bearer token.
func Handler(dir Directory, opts HandlerOptions) http.Handler {
	h := &handler{dir: dir, opts: opts}

	mux := http.NewServeMux()
	route := func(pattern, name string, fn http.HandlerFunc) {
		mux.Handle(pattern, opts.Metrics.instrument(name, fn))
	}
	route("PUT /v1/users/{userID}/public-key", "publish_public_key", h.publishPublicKey)
	route("GET /v1/public-keys", "lookup_public_key", h.lookupPublicKey)
	route("POST /v1/invites", "submit_invite", h.submitInvite)
	route("GET /v1/invites/{code}", "fetch_invite", h.fetchInvite)
	route("PATCH /v1/invites/{code}", "update_invite_status", h.updateInviteStatus)
	route("GET /v1/families/{familyID}/invites", "list_invites", h.listInvites)
	return h.authenticate(mux)
}

type handler struct {
	dir  Directory
	opts HandlerOptions
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" || (h.opts.Authorize != nil && !h.opts.Authorize(token)) {
			writeError(w, http.StatusUnauthorized, codeNotAuthenticated, "a valid bearer token is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) publishPublicKey(w http.ResponseWriter, r *http.Request) {
	var key UserKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed public key record")
		return
	}
	key.UserID = r.PathValue("userID")
	if err := h.dir.PublishPublicKey(r.Context(), key); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) lookupPublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.dir.LookupPublicKey(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *handler) submitInvite(w http.ResponseWriter, r *http.Request) {
	var invite InviteRecord
	if err := json.NewDecoder(r.Body).Decode(&invite); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed invite record")
		return
	}
	if err := h.dir.SubmitInvite(r.Context(), invite); err != nil {
		h.fail(w, err)
		return
	}
	h.opts.Metrics.inviteSubmitted(invite)
	h.opts.Logger.Infof("Stored invite for family %s", invite.FamilyID)
	w.WriteHeader(http.StatusCreated)
}

func (h *handler) fetchInvite(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.dir.FetchInvite(r.Context(), r.PathValue("code"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *handler) updateInviteStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed status update")
		return
	}
	if err := h.dir.UpdateInviteStatus(r.Context(), r.PathValue("code"), body.Status); err != nil {
		h.fail(w, err)
		return
	}
	h.opts.Metrics.inviteTransition(body.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.dir.ListInvites(r.Context(), r.PathValue("familyID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

// fail maps a directory error onto a status and error code.
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kerrors.ErrPublicKeyNotFound):
		writeError(w, http.StatusNotFound, codePublicKeyNotFound, err.Error())
	case errors.Is(err, kerrors.ErrInviteNotFound):
		writeError(w, http.StatusNotFound, codeInviteNotFound, err.Error())
	case errors.Is(err, kerrors.ErrInviteExpired):
		writeError(w, http.StatusGone, codeInviteExpired, err.Error())
	case errors.Is(err, kerrors.ErrInviteNotPending):
		writeError(w, http.StatusConflict, codeInviteNotPending, err.Error())
	case errors.Is(err, kerrors.ErrInvalidInviteFormat),
		errors.Is(err, kerrors.ErrInvalidEmail),
		errors.Is(err, kerrors.ErrInvalidUserID),
		errors.Is(err, kerrors.ErrInvalidFamilyID),
		errors.Is(err, kerrors.ErrInvalidKeyFormat),
		errors.Is(err, kerrors.ErrInvalidKeyLength),
		errors.Is(err, kerrors.ErrInvalidKeyMaterial),
		errors.Is(err, kerrors.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	default:
		h.opts.Logger.Errorf("Directory request failed: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}
