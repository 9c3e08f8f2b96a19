package server

import (
	"encoding/json"
	"net/http"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
)

// handleEncrypted decrypts {"encrypt_data": ...}, and answers with the
// standard envelope {"data": {"echo": <payload>}} encrypted the same way.
func (h *Handler) handleEncrypted(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodPost) {
		return
	}
	if h.cfg.Encrypt.AESKey == "" {
		h.writeErrorWithRequest(w, r, http.StatusServiceUnavailable, codeUnavailable, "encryption is not configured", nil)
		return
	}
	key, iv := []byte(h.cfg.Encrypt.AESKey), []byte(h.cfg.Encrypt.AESIV)

	var input model.EncryptedBody
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.EncryptData == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "encrypt_data is required", nil)
		return
	}
	plain, err := cryptoutil.AESDecrypt(input.EncryptData, key, iv)
	if err != nil {
		h.logger.Warn("decrypt request failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "encrypt_data could not be decrypted", nil)
		return
	}
	var payload any
	if err := json.Unmarshal(plain, &payload); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "decrypted body is not JSON", nil)
		return
	}

	inner := mustJSON(responseEnvelope{Data: map[string]any{"echo": payload}})
	enc, err := cryptoutil.AESEncrypt(inner, key, iv)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "failed to encrypt response", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(mustJSON(model.EncryptedBody{EncryptData: enc})); err != nil {
		h.logger.Warn("write encrypted response failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
}
