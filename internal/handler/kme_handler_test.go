package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"qkd-mail-service/internal/domain"
	"qkd-mail-service/internal/metrics"
	"qkd-mail-service/internal/repository"
	"qkd-mail-service/internal/usecase"
	"qkd-mail-service/pkg/kmeapi"
)

// failingStore は常に失敗する鍵ストア。
type failingStore struct{}

func (failingStore) Load(ctx context.Context) error                     { return nil }
func (failingStore) Put(ctx context.Context, keys ...*domain.Key) error { return domain.ErrKeyStoreUnavailable }
func (failingStore) Get(ctx context.Context, keyID string) (*domain.Key, error) {
	return nil, domain.ErrKeyStoreUnavailable
}
func (failingStore) Touch(ctx context.Context, keyIDs ...string) error { return domain.ErrKeyStoreUnavailable }
func (failingStore) Persist(ctx context.Context) error                 { return domain.ErrKeyStoreUnavailable }
func (failingStore) Count(ctx context.Context) (int, error)            { return 0, errors.New("down") }

func testProfile() domain.KMEStatus {
	return domain.KMEStatus{
		SourceKMEID:      "KME_SIMULATOR_001",
		TargetKMEID:      "KME_SIMULATOR_002",
		MasterSAEID:      "MASTER_SAE",
		KeySize:          256,
		StoredKeyCount:   1000,
		MaxKeyCount:      10000,
		MaxKeyPerRequest: 10,
		MaxKeySize:       512,
		MinKeySize:       128,
	}
}

func setupHandler(t *testing.T) (*KMEHandler, *repository.FileKeyStore) {
	t.Helper()
	store := repository.NewFileKeyStore(filepath.Join(t.TempDir(), "keys.json"))
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("failed to load store: %v", err)
	}
	service := usecase.NewKMEService(store, usecase.NewRandomKeyGenerator(), testProfile(), nil)
	return NewKMEHandler(service, store, "file"), store
}

func withSAEID(req *http.Request, saeID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("sae_id", saeID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestStatus_Success(t *testing.T) {
	h, _ := setupHandler(t)

	req := withSAEID(httptest.NewRequest(http.MethodGet, "/api/v1/keys/RECEIVER_SAE/status", nil), "RECEIVER_SAE")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp kmeapi.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.SlaveSAEID != "RECEIVER_SAE" {
		t.Errorf("want slave_SAE_ID RECEIVER_SAE, got %s", resp.SlaveSAEID)
	}
	if resp.SourceKMEID != "KME_SIMULATOR_001" || resp.KeySize != 256 || resp.MaxKeyPerRequest != 10 {
		t.Errorf("unexpected status: %+v", resp)
	}
}

func TestStatus_InvalidSAEID(t *testing.T) {
	h, _ := setupHandler(t)

	req := withSAEID(httptest.NewRequest(http.MethodGet, "/api/v1/keys/x/status", nil), "bad sae!")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestEncKeys_Defaults(t *testing.T) {
	h, store := setupHandler(t)

	req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/RECEIVER_SAE/enc_keys", strings.NewReader("{}")), "RECEIVER_SAE")
	rec := httptest.NewRecorder()
	h.EncKeys(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp kmeapi.KeyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp.Keys) != 1 {
		t.Fatalf("want 1 key, got %d", len(resp.Keys))
	}
	material, err := base64.StdEncoding.DecodeString(resp.Keys[0].Key)
	if err != nil {
		t.Fatalf("key is not base64: %v", err)
	}
	if len(material) != 32 {
		t.Errorf("want 32 bytes, got %d", len(material))
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Errorf("want 1 stored key, got %d", n)
	}
}

func TestEncKeys_NumberAndSize(t *testing.T) {
	h, _ := setupHandler(t)

	body := `{"number":3,"size":128}`
	req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/RECEIVER_SAE/enc_keys", strings.NewReader(body)), "RECEIVER_SAE")
	rec := httptest.NewRecorder()
	h.EncKeys(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp kmeapi.KeyResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Keys) != 3 {
		t.Fatalf("want 3 keys, got %d", len(resp.Keys))
	}
	seen := map[string]bool{}
	for _, k := range resp.Keys {
		if seen[k.KeyID] {
			t.Errorf("duplicate key ID %s", k.KeyID)
		}
		seen[k.KeyID] = true
		material, _ := base64.StdEncoding.DecodeString(k.Key)
		if len(material) != 16 {
			t.Errorf("want 16 bytes, got %d", len(material))
		}
	}
}

func TestEncKeys_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero number", `{"number":0}`},
		{"size not multiple of 8", `{"size":100}`},
		{"malformed json", `{"number":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := setupHandler(t)

			req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/RECEIVER_SAE/enc_keys", strings.NewReader(tt.body)), "RECEIVER_SAE")
			rec := httptest.NewRecorder()
			h.EncKeys(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("want status 400, got %d", rec.Code)
			}
			if n, _ := store.Count(context.Background()); n != 0 {
				t.Errorf("want no stored keys, got %d", n)
			}
		})
	}
}

func TestEncKeys_StoreUnavailable(t *testing.T) {
	service := usecase.NewKMEService(failingStore{}, usecase.NewRandomKeyGenerator(), testProfile(), nil)
	h := NewKMEHandler(service, failingStore{}, "file")

	req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/RECEIVER_SAE/enc_keys", nil), "RECEIVER_SAE")
	rec := httptest.NewRecorder()
	h.EncKeys(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("want status 500, got %d", rec.Code)
	}
}

func TestDecKeys_Success(t *testing.T) {
	h, _ := setupHandler(t)

	encReq := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/RECEIVER_SAE/enc_keys", nil), "RECEIVER_SAE")
	encRec := httptest.NewRecorder()
	h.EncKeys(encRec, encReq)
	var issued kmeapi.KeyResponse
	json.NewDecoder(encRec.Body).Decode(&issued)

	body := `{"key_IDs":[{"key_ID":"unknown"},{"key_ID":"` + issued.Keys[0].KeyID + `"}]}`
	req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/SENDER_SAE/dec_keys", strings.NewReader(body)), "SENDER_SAE")
	rec := httptest.NewRecorder()
	h.DecKeys(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp kmeapi.KeyResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Keys) != 1 {
		t.Fatalf("want 1 key, got %d", len(resp.Keys))
	}
	if resp.Keys[0] != issued.Keys[0] {
		t.Errorf("want %+v, got %+v", issued.Keys[0], resp.Keys[0])
	}
}

func TestDecKeys_NotFound(t *testing.T) {
	h, _ := setupHandler(t)

	body := `{"key_IDs":[{"key_ID":"unknown"}]}`
	req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/SENDER_SAE/dec_keys", strings.NewReader(body)), "SENDER_SAE")
	rec := httptest.NewRecorder()
	h.DecKeys(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["message"] != "No matching keys found" {
		t.Errorf("unexpected message: %v", resp["message"])
	}
}

func TestDecKeys_MissingKeyIDs(t *testing.T) {
	h, _ := setupHandler(t)

	req := withSAEID(httptest.NewRequest(http.MethodPost, "/api/v1/keys/SENDER_SAE/dec_keys", strings.NewReader(`{}`)), "SENDER_SAE")
	rec := httptest.NewRecorder()
	h.DecKeys(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := setupHandler(t)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp kmeapi.HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "healthy" || resp.KeyStore != "file" {
		t.Errorf("unexpected health: %+v", resp)
	}

	service := usecase.NewKMEService(failingStore{}, usecase.NewRandomKeyGenerator(), testProfile(), nil)
	rec = httptest.NewRecorder()
	NewKMEHandler(service, failingStore{}, "mysql").Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("want status 503, got %d", rec.Code)
	}
}

func TestRouter_EndToEnd(t *testing.T) {
	h, _ := setupHandler(t)
	reg := metrics.NewRegistry()
	srv := httptest.NewServer(NewRouter(h, reg.Handler()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/keys/RECEIVER_SAE/enc_keys", "application/json", strings.NewReader(`{"number":2}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want status 200, got %d", resp.StatusCode)
	}

	statusResp, err := http.Get(srv.URL + "/api/v1/keys/RECEIVER_SAE/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		t.Errorf("want status 200, got %d", statusResp.StatusCode)
	}

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("want status 200 from /metrics, got %d", metricsResp.StatusCode)
	}

	// 未定義のメソッドは405
	getEnc, err := http.Get(srv.URL + "/api/v1/keys/RECEIVER_SAE/enc_keys")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer getEnc.Body.Close()
	if getEnc.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("want status 405, got %d", getEnc.StatusCode)
	}
}
