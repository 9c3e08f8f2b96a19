package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/storage"
)

// handleSigned verifies the sign parameter of a request against the query
// (and, for form posts, the form fields), then records the nonce so the same
// signed request is refused until its timestamp leaves the window.
func (h *Handler) handleSigned(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if h.cfg.Sign.Key == "" {
		h.writeErrorWithRequest(w, r, http.StatusServiceUnavailable, codeUnavailable, "signing is not configured", nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "invalid form body", nil)
		return
	}

	candidate := r.Form.Get(signing.KeySign)
	if candidate == "" {
		incrementSignatureVerification("missing")
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeSignature, "signature is required", nil)
		return
	}

	// Every parameter must carry exactly one value; a repeated key would be
	// verified on its first value while later ones pass unsigned
	params := make(signing.Params, len(r.Form))
	echo := make(map[string]string, len(r.Form))
	for k, values := range r.Form {
		if len(values) > 1 {
			incrementSignatureVerification("invalid")
			h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "parameter repeated",
				map[string]string{"parameter": k})
			return
		}
		if k == signing.KeySign {
			continue
		}
		params[k] = values[0]
		echo[k] = values[0]
	}

	window := h.cfg.Sign.Window
	if window <= 0 {
		window = signing.DefaultWindow
	}
	// Nonce expiry is judged on the clock the signer checks freshness with
	now := h.clock()
	if !h.signer.Verify(params, candidate, h.cfg.Sign.Key, h.cfg.Sign.Algorithm, window) {
		incrementSignatureVerification("invalid")
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeSignature, "signature verification failed", nil)
		return
	}

	nonce := r.Form.Get(signing.KeyNonce)
	// Same parser Verify used, so anything it accepted parses here too
	ts, ok := signing.ParseTimestamp(r.Form.Get(signing.KeyTimestamp))
	if !ok {
		incrementSignatureVerification("invalid")
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeSignature, "malformed timestamp", nil)
		return
	}
	seen := model.SeenNonce{Value: nonce, ExpiresAt: time.Unix(ts, 0).Add(window).UTC()}
	if err := h.store.Remember(r.Context(), seen, now); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			incrementSignatureVerification("replay")
			h.logger.Warn("replayed nonce rejected", "nonce", nonce, "correlationId", correlationIDFrom(r.Context()))
			h.writeErrorWithRequest(w, r, http.StatusConflict, codeReplay, "nonce already used", nil)
			return
		}
		incrementSignatureVerification("error")
		h.logger.Error("remember nonce failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "failed to record nonce", nil)
		return
	}
	incrementSignatureVerification("valid")

	h.writeSuccess(w, http.StatusOK, model.SignatureResult{
		Verified:  true,
		Nonce:     nonce,
		Timestamp: ts,
		Params:    echo,
	}, nil, r)
	h.logger.Info("signed request accepted", "nonce", nonce, "correlationId", correlationIDFrom(r.Context()))
}
