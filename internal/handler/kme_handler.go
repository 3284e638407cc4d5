// Package handler はKMEのHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"qkd-mail-service/internal/domain"
	"qkd-mail-service/internal/middleware"
	"qkd-mail-service/internal/usecase"
	"qkd-mail-service/pkg/httputil"
	"qkd-mail-service/pkg/kmeapi"
)

var saeIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// KeyCounter は保存済み鍵の件数を返すインターフェース。
type KeyCounter interface {
	Count(ctx context.Context) (int, error)
}

// KMEHandler はKMEのHTTPハンドラを提供する。
type KMEHandler struct {
	service *usecase.KMEService
	store   KeyCounter
	driver  string
}

// NewKMEHandler は新しいKMEHandlerを生成する。driverはhealthに表示する鍵ストア種別。
func NewKMEHandler(service *usecase.KMEService, store KeyCounter, driver string) *KMEHandler {
	return &KMEHandler{
		service: service,
		store:   store,
		driver:  driver,
	}
}

func validateSAEID(saeID string) error {
	if saeID == "" || len(saeID) > 64 || !saeIDRegex.MatchString(saeID) {
		return domain.ErrInvalidRequest
	}
	return nil
}

// Status はKMEの能力情報を返す。
func (h *KMEHandler) Status(w http.ResponseWriter, r *http.Request) {
	slaveSAEID := chi.URLParam(r, "sae_id")
	if err := validateSAEID(slaveSAEID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SAE_ID", "invalid SAE ID format")
		return
	}

	status := h.service.Status(slaveSAEID)
	middleware.WriteAuditLog(r.Context(), "STATUS", slaveSAEID, 0, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, kmeapi.NewStatusResponse(status))
}

// EncKeys は新しい鍵を生成して返す。
func (h *KMEHandler) EncKeys(w http.ResponseWriter, r *http.Request) {
	slaveSAEID := chi.URLParam(r, "sae_id")
	if err := validateSAEID(slaveSAEID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SAE_ID", "invalid SAE ID format")
		return
	}

	var req kmeapi.KeyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := kmeapi.Validate(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	number := 1
	if req.Number != nil {
		number = *req.Number
	}
	size := h.service.DefaultKeySize()
	if req.Size != nil {
		size = *req.Size
	}

	keys, err := h.service.RequestEncryptionKeys(r.Context(), slaveSAEID, number, size)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "ENC_KEYS", slaveSAEID, 0, middleware.ResultFailed)
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "ENC_KEYS", slaveSAEID, len(keys), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, kmeapi.NewKeyResponse(keys))
}

// DecKeys は指定IDの鍵を返す。
func (h *KMEHandler) DecKeys(w http.ResponseWriter, r *http.Request) {
	masterSAEID := chi.URLParam(r, "sae_id")
	if err := validateSAEID(masterSAEID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SAE_ID", "invalid SAE ID format")
		return
	}

	var req kmeapi.KeyIDsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := kmeapi.Validate(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	keys, err := h.service.RequestDecryptionKeys(r.Context(), masterSAEID, req.IDs())
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "DEC_KEYS", masterSAEID, 0, middleware.ResultFailed)
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "DEC_KEYS", masterSAEID, len(keys), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, kmeapi.NewKeyResponse(keys))
}

// Health は稼働状況と保存済み鍵の件数を返す。
func (h *KMEHandler) Health(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		httputil.JSON(w, http.StatusServiceUnavailable, kmeapi.HealthResponse{
			Status:   "unhealthy",
			KeyStore: h.driver,
		})
		return
	}
	httputil.JSON(w, http.StatusOK, kmeapi.HealthResponse{
		Status:     "healthy",
		KeyStore:   h.driver,
		StoredKeys: n,
	})
}

// writeServiceError はエラーの種類に応じたステータスでレスポンスを返す。
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrKeyNotFound):
		httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "No matching keys found")
	case errors.Is(err, domain.ErrKeyStoreUnavailable):
		httputil.Error(w, http.StatusInternalServerError, "KEY_STORE_UNAVAILABLE", "key store unavailable")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
