package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/http/middleware"
	"oidcprovider/internal/services/clients"
	"oidcprovider/internal/storage"
)

const maxBodyBytes = 64 << 10

type clientRequest struct {
	Name         string   `json:"name"`
	Scope        []string `json:"scope"`
	DefaultScope []string `json:"default_scope"`
	RedirectURIs []string `json:"redirect_uris"`
	ImageURL     string   `json:"image_url"`
	RerollSecret bool     `json:"reroll_secret"`
}

func (c *clientRequest) registration(ownerID int64) (models.ClientRegistration, error) {
	sc, unknown := scope.FromStrings(c.Scope)
	defaults, unknownDefaults := scope.FromStrings(c.DefaultScope)
	unknown = append(unknown, unknownDefaults...)
	if len(unknown) > 0 {
		return models.ClientRegistration{}, errors.New("unknown scope " + strings.Join(unknown, ", "))
	}
	return models.ClientRegistration{
		OwnerID:      ownerID,
		Name:         c.Name,
		Scope:        sc,
		DefaultScope: defaults,
		RedirectURIs: c.RedirectURIs,
		ImageURL:     c.ImageURL,
		RerollSecret: c.RerollSecret,
	}, nil
}

func decodeClientRequest(w http.ResponseWriter, r *http.Request) (*clientRequest, bool) {
	var req clientRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed json body")
		return nil, false
	}
	return &req, true
}

// writeRegistryError maps registry failures onto api statuses
func (h *Handler) writeRegistryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, clients.ErrInvalidRegistration):
		writeAPIError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrClientNameTaken):
		writeAPIError(w, http.StatusConflict, "an application with this name already exists")
	case errors.Is(err, storage.ErrClientLimitReached):
		writeAPIError(w, http.StatusConflict, "application limit reached")
	case errors.Is(err, storage.ErrClientNotFound):
		writeAPIError(w, http.StatusNotFound, "application not found")
	default:
		h.log.With(slog.String("op", op)).Error("client registry failure", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListClients returns the caller's applications
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ListClients"

	list, err := h.clients.List(r.Context(), middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		h.writeRegistryError(w, op, err)
		return
	}
	if list == nil {
		list = []models.Client{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateClient registers an application owned by the caller
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.CreateClient"

	req, ok := decodeClientRequest(w, r)
	if !ok {
		return
	}
	reg, err := req.registration(middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg.RerollSecret = false

	creds, err := h.clients.Register(r.Context(), reg)
	if err != nil {
		h.writeRegistryError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, creds)
}

// UpdateClient edits an owned application, optionally rerolling its secret
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.UpdateClient"

	req, ok := decodeClientRequest(w, r)
	if !ok {
		return
	}
	reg, err := req.registration(middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg.ExistingClientID = chi.URLParam(r, "client_id")

	creds, err := h.clients.Register(r.Context(), reg)
	if err != nil {
		h.writeRegistryError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// DeleteClient removes an owned application
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.DeleteClient"

	deleted, err := h.clients.Delete(r.Context(), middleware.SessionFrom(r.Context()).UserID, chi.URLParam(r, "client_id"))
	if err != nil {
		h.writeRegistryError(w, op, err)
		return
	}
	if !deleted {
		writeAPIError(w, http.StatusNotFound, "application not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConsents returns the applications the caller has authorized
func (h *Handler) ListConsents(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ListConsents"

	list, err := h.consents.ListForUser(r.Context(), middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		h.log.With(slog.String("op", op)).Error("failed to list consents", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []models.ConsentSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// RevokeConsent withdraws an authorization along with its live tokens
func (h *Handler) RevokeConsent(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.RevokeConsent"

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "consent id must be numeric")
		return
	}
	revoked, err := h.consents.Revoke(r.Context(), id, middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		h.log.With(slog.String("op", op)).Error("failed to revoke consent", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !revoked {
		writeAPIError(w, http.StatusNotFound, "consent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const healthTimeout = 2 * time.Second

// Health reports whether the store answers
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		h.log.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
