// Package api exposes the bulk request coordinator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/bulk"
	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/signing"
)

// RequestedByHeader carries the submitter identity set by the auth proxy.
const RequestedByHeader = "X-Requested-By"

const maxBodyBytes = 64 << 10

// Coordinator is the part of bulk.Coordinator the HTTP layer needs.
type Coordinator interface {
	Submit(ctx context.Context, in bulk.SubmitRequest) (string, error)
	GetStatus(ctx context.Context, requestID string) (*model.Snapshot, error)
	GetArtifact(ctx context.Context, requestID string) (io.ReadCloser, string, error)
	Redispatch(ctx context.Context, requestID string) error
}

// API holds the handler dependencies.
type API struct {
	coord     Coordinator
	signer    *signing.Signer
	signedTTL time.Duration
	log       zerolog.Logger
}

// New constructs the API.
func New(coord Coordinator, signer *signing.Signer, signedTTL time.Duration) *API {
	return &API{coord: coord, signer: signer, signedTTL: signedTTL, log: logger.Component("api")}
}

// Routes builds the chi router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/requests", a.handleSubmit)
		r.Get("/requests/{id}", a.handleStatus)
		r.Post("/requests/{id}/dispatch", a.handleRedispatch)
		r.Get("/requests/{id}/artifact", a.handleArtifact)
		r.Post("/requests/{id}/signed-url", a.handleSignedURL)
		r.Get("/download", a.handleDownload)
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitBody struct {
	Identifiers []string `json:"identifiers"`
	Download    bool     `json:"download"`
}

type submitResponse struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	kind := model.KindValidate
	if body.Download {
		kind = model.KindDownload
	}
	id, err := a.coord.Submit(r.Context(), bulk.SubmitRequest{
		Identifiers: body.Identifiers,
		RequestedBy: r.Header.Get(RequestedByHeader),
		Kind:        kind,
	})
	if err != nil && id != "" {
		// Persisted but not handed to a worker.
		a.log.Error().Err(err).Str("request_id", id).Msg("dispatch failed")
		respondJSON(w, http.StatusServiceUnavailable, submitResponse{ID: id, Status: model.StatusPending, Error: "request saved but could not be queued"})
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/requests/"+id)
	respondJSON(w, http.StatusAccepted, submitResponse{ID: id, Status: model.StatusPending})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := a.coord.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleRedispatch re-queues a request that is still PENDING.
func (a *API) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.coord.Redispatch(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, submitResponse{ID: id, Status: model.StatusPending})
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrConflict):
		a.writeError(w, err)
	default:
		a.log.Error().Err(err).Str("request_id", id).Msg("re-dispatch failed")
		respondJSON(w, http.StatusServiceUnavailable, submitResponse{ID: id, Status: model.StatusPending, Error: "request could not be queued"})
	}
}

func (a *API) handleArtifact(w http.ResponseWriter, r *http.Request) {
	a.serveArtifact(w, r, chi.URLParam(r, "id"))
}

func (a *API) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := a.coord.GetStatus(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	req := snap.Request
	if !req.Kind.RequiresArtifact() || !req.Status.Terminal() || req.Status == model.StatusFailed {
		respondJSON(w, http.StatusConflict, errorBody{Error: "request " + id + " has no downloadable artifact (status " + string(req.Status) + ")"})
		return
	}
	respondJSON(w, http.StatusOK, a.signer.SignedURL("/api/v1/download", id, a.signedTTL))
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := a.signer.Verify(r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.serveArtifact(w, r, id)
}

func (a *API) serveArtifact(w http.ResponseWriter, r *http.Request, id string) {
	rc, name, err := a.coord.GetArtifact(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, time.Time{}, rs)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		a.log.Warn().Err(err).Str("request_id", id).Msg("artifact stream interrupted")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, model.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, model.ErrNotReady), errors.Is(err, model.ErrConflict):
		respondJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, model.ErrArtifactExpired):
		respondJSON(w, http.StatusGone, errorBody{Error: err.Error()})
	case errors.Is(err, signing.ErrExpired), errors.Is(err, signing.ErrInvalidSignature), errors.Is(err, signing.ErrMalformed):
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	default:
		a.log.Error().Err(err).Msg("request failed")
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		l := logger.Get()
		l.Warn().Err(err).Msg("encode response")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,"+RequestedByHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("http_request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
