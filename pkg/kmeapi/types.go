// Package kmeapi はKMEのHTTP APIで送受信するJSONの型を定義する。
// サーバ（handler）とクライアント（kmeclient）の双方から使う。
package kmeapi

import (
	"encoding/base64"
	"fmt"

	"qkd-mail-service/internal/domain"
)

// エンドポイントのパス。{sae_id}にはSAE IDが入る。
const (
	PathStatus  = "/api/v1/keys/%s/status"
	PathEncKeys = "/api/v1/keys/%s/enc_keys"
	PathDecKeys = "/api/v1/keys/%s/dec_keys"
	PathHealth  = "/health"
)

// StatusResponse はstatusエンドポイントのレスポンス。
type StatusResponse struct {
	SourceKMEID      string `json:"source_KME_ID"`
	TargetKMEID      string `json:"target_KME_ID"`
	MasterSAEID      string `json:"master_SAE_ID"`
	SlaveSAEID       string `json:"slave_SAE_ID"`
	KeySize          int    `json:"key_size"`
	StoredKeyCount   int    `json:"stored_key_count"`
	MaxKeyCount      int    `json:"max_key_count"`
	MaxKeyPerRequest int    `json:"max_key_per_request"`
	MaxKeySize       int    `json:"max_key_size"`
	MinKeySize       int    `json:"min_key_size"`
	MaxSAEIDCount    int    `json:"max_SAE_ID_count"`
}

// KeyRequest はenc_keysエンドポイントのリクエスト。省略した項目は既定値になる。
type KeyRequest struct {
	Number *int `json:"number,omitempty" validate:"omitempty,min=1"`
	Size   *int `json:"size,omitempty" validate:"omitempty,min=8"`
}

// KeyContainer は鍵1件分の表現。鍵素材は標準base64。
type KeyContainer struct {
	KeyID string `json:"key_ID"`
	Key   string `json:"key"`
}

// KeyResponse はenc_keys/dec_keysエンドポイントのレスポンス。
type KeyResponse struct {
	Keys []KeyContainer `json:"keys"`
}

// KeyID は鍵IDを1件指定する。
type KeyID struct {
	KeyID string `json:"key_ID" validate:"required"`
}

// KeyIDsRequest はdec_keysエンドポイントのリクエスト。
type KeyIDsRequest struct {
	KeyIDs []KeyID `json:"key_IDs" validate:"required,dive"`
}

// HealthResponse はhealthエンドポイントのレスポンス。
type HealthResponse struct {
	Status     string `json:"status"`
	KeyStore   string `json:"key_store"`
	StoredKeys int    `json:"stored_keys"`
}

// NewStatusResponse はドメインの状態をレスポンス形式に変換する。
func NewStatusResponse(s *domain.KMEStatus) StatusResponse {
	return StatusResponse{
		SourceKMEID:      s.SourceKMEID,
		TargetKMEID:      s.TargetKMEID,
		MasterSAEID:      s.MasterSAEID,
		SlaveSAEID:       s.SlaveSAEID,
		KeySize:          s.KeySize,
		StoredKeyCount:   s.StoredKeyCount,
		MaxKeyCount:      s.MaxKeyCount,
		MaxKeyPerRequest: s.MaxKeyPerRequest,
		MaxKeySize:       s.MaxKeySize,
		MinKeySize:       s.MinKeySize,
		MaxSAEIDCount:    s.MaxSAEIDCount,
	}
}

// ToDomain はレスポンスをドメインの状態に変換する。
func (r StatusResponse) ToDomain() *domain.KMEStatus {
	return &domain.KMEStatus{
		SourceKMEID:      r.SourceKMEID,
		TargetKMEID:      r.TargetKMEID,
		MasterSAEID:      r.MasterSAEID,
		SlaveSAEID:       r.SlaveSAEID,
		KeySize:          r.KeySize,
		StoredKeyCount:   r.StoredKeyCount,
		MaxKeyCount:      r.MaxKeyCount,
		MaxKeyPerRequest: r.MaxKeyPerRequest,
		MaxKeySize:       r.MaxKeySize,
		MinKeySize:       r.MinKeySize,
		MaxSAEIDCount:    r.MaxSAEIDCount,
	}
}

// NewKeyResponse は鍵一覧をレスポンス形式に変換する。
func NewKeyResponse(keys []*domain.Key) KeyResponse {
	resp := KeyResponse{Keys: make([]KeyContainer, len(keys))}
	for i, k := range keys {
		resp.Keys[i] = KeyContainer{
			KeyID: k.ID,
			Key:   base64.StdEncoding.EncodeToString(k.Material),
		}
	}
	return resp
}

// ToDomain はレスポンスの鍵を復号してドメインの鍵に変換する。
func (r KeyResponse) ToDomain() ([]*domain.Key, error) {
	keys := make([]*domain.Key, len(r.Keys))
	for i, c := range r.Keys {
		material, err := base64.StdEncoding.DecodeString(c.Key)
		if err != nil {
			return nil, fmt.Errorf("decoding key %s: %w", c.KeyID, err)
		}
		keys[i] = &domain.Key{
			ID:            c.KeyID,
			Material:      material,
			RequestedBits: len(material) * 8,
		}
	}
	return keys, nil
}

// NewKeyIDsRequest は鍵IDの一覧からリクエストを組み立てる。
func NewKeyIDsRequest(ids []string) KeyIDsRequest {
	req := KeyIDsRequest{KeyIDs: make([]KeyID, len(ids))}
	for i, id := range ids {
		req.KeyIDs[i] = KeyID{KeyID: id}
	}
	return req
}

// IDs はリクエストに含まれる鍵IDを順に返す。
func (r KeyIDsRequest) IDs() []string {
	ids := make([]string, len(r.KeyIDs))
	for i, k := range r.KeyIDs {
		ids[i] = k.KeyID
	}
	return ids
}
