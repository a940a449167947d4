package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/remiblancher/certengine/internal/api/dto"
	apierrors "github.com/remiblancher/certengine/internal/api/errors"
	"github.com/remiblancher/certengine/pkg/ca"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 4 << 20

// CertHandler serves verification, parsing and capability listing.
type CertHandler struct {
	verifier *ca.Verifier
	issuers  []ca.CertIssuer
}

// NewCertHandler creates a new CertHandler.
func NewCertHandler(verifier *ca.Verifier, issuers []ca.CertIssuer) *CertHandler {
	return &CertHandler{verifier: verifier, issuers: issuers}
}

// Verify handles POST /api/v1/verify.
func (h *CertHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cert, err := req.Cert.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("cert: "+err.Error()))
		return
	}
	roots, err := dto.DecodeAll("trust_roots", req.TrustRoots)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	intermediates, err := dto.DecodeAll("intermediates", req.Intermediates)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}

	opts := ca.VerifyOptions{
		TrustRoots:                  roots,
		Intermediates:               intermediates,
		CheckRevocation:             req.CheckRevocation,
		AllowSelfSignedWithoutRoots: req.AllowSelfSignedWithoutRoots,
		MaxDepth:                    req.MaxDepth,
	}
	if req.CheckTime != nil {
		t := time.Unix(*req.CheckTime, 0)
		opts.CheckTime = &t
	}

	res, err := h.verifier.Verify(r.Context(), cert, opts)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Parse handles POST /api/v1/parse.
func (h *CertHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req dto.ParseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cert, err := req.Cert.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("cert: "+err.Error()))
		return
	}
	info, err := ca.ParseCert(cert, req.IncludeExtensions)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// Capabilities handles GET /api/v1/capabilities.
func (h *CertHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	resp := dto.CapabilitiesResponse{Issuers: make([]ca.Capabilities, 0, len(h.issuers))}
	for _, iss := range h.issuers {
		resp.Issuers = append(resp.Issuers, iss.Capabilities())
	}
	respondJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Invalid JSON request body: "+err.Error()))
		return false
	}
	return true
}
