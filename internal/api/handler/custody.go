package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/pkg/custody"
)

// maxCustodyBodyBytes bounds sign request bodies.
const maxCustodyBodyBytes = 1 << 20

// CustodyHandler exposes a custody backend over HTTP with CBOR bodies.
type CustodyHandler struct {
	backend custody.Custody
	logger  *zap.Logger
}

// NewCustodyHandler creates a new CustodyHandler.
func NewCustodyHandler(backend custody.Custody, logger *zap.Logger) *CustodyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustodyHandler{backend: backend, logger: logger}
}

// PublicKey handles GET /v1/keys/{handle}/public-key.
func (h *CustodyHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}
	pub, err := h.backend.PublicKey(r.Context(), handle)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	spki, err := pkicrypto.MarshalPKIXPublicKey(pub)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	resp := custody.PublicKeyResponse{SPKI: spki}
	if alg, err := pkicrypto.AlgorithmOf(pub); err == nil {
		resp.Algorithm = alg.String()
	}
	writeCBOR(w, http.StatusOK, resp)
}

// Sign handles POST /v1/keys/{handle}/sign.
func (h *CustodyHandler) Sign(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.handle(w, r)
	if !ok {
		return
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxCustodyBodyBytes)); err != nil && !errors.Is(err, io.EOF) {
		writeCustodyError(w, http.StatusBadRequest, custody.CodeBadRequest, "read body: "+err.Error())
		return
	}
	var req custody.SignRequest
	if err := custody.Unmarshal(buf.B, &req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, custody.CodeBadRequest, "decode body: "+err.Error())
		return
	}
	if req.Scheme == "" || len(req.Message) == 0 {
		writeCustodyError(w, http.StatusBadRequest, custody.CodeBadRequest, "scheme and message are required")
		return
	}

	sig, err := h.backend.Sign(r.Context(), handle, req.Scheme, req.Message)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	h.logger.Debug("custody sign",
		zap.String("handle", handle),
		zap.String("scheme", string(req.Scheme)),
		zap.Int("message_len", len(req.Message)))
	writeCBOR(w, http.StatusOK, custody.SignResponse{Signature: sig})
}

// Unauthorized writes a CBOR 401 for custody clients.
func (h *CustodyHandler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	writeCustodyError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
}

// handle returns the unescaped key handle; chi matches on the raw path so
// handles such as "alias/root" arrive escaped.
func (h *CustodyHandler) handle(w http.ResponseWriter, r *http.Request) (string, bool) {
	handle, err := url.PathUnescape(chi.URLParam(r, "handle"))
	if err != nil || handle == "" {
		writeCustodyError(w, http.StatusBadRequest, custody.CodeBadRequest, "invalid key handle")
		return "", false
	}
	return handle, true
}

func (h *CustodyHandler) fail(w http.ResponseWriter, handle string, err error) {
	status, code := custody.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("custody backend failed", zap.String("handle", handle), zap.Error(err))
	}
	writeCustodyError(w, status, code, err.Error())
}

func writeCustodyError(w http.ResponseWriter, status int, code, message string) {
	writeCBOR(w, status, custody.ErrorResponse{Code: code, Message: message})
}

func writeCBOR(w http.ResponseWriter, status int, v any) {
	data, err := custody.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", custody.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
