// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qkd-mail-service/internal/domain"
)

// KeyStore は鍵ストアのインターフェース。
// Put/Touch は変更と永続化を一体で行う。
type KeyStore interface {
	Load(ctx context.Context) error
	Put(ctx context.Context, keys ...*domain.Key) error
	Get(ctx context.Context, keyID string) (*domain.Key, error)
	Touch(ctx context.Context, keyIDs ...string) error
	Persist(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// KeyGenerator は鍵素材と鍵IDを生成するインターフェース。
type KeyGenerator interface {
	Generate(sizeBits int) (*domain.Key, error)
}

// KMEMetrics は鍵の払い出し状況を記録するインターフェース。
type KMEMetrics interface {
	KeysIssued(slaveSAEID string, n int)
	KeysRetrieved(masterSAEID string, n int)
	KeysMissed(masterSAEID string, n int)
}

type noopMetrics struct{}

func (noopMetrics) KeysIssued(string, int)    {}
func (noopMetrics) KeysRetrieved(string, int) {}
func (noopMetrics) KeysMissed(string, int)    {}

// KMEService は鍵管理エンティティ（KME）のビジネスロジックを提供する。
type KMEService struct {
	store   KeyStore
	gen     KeyGenerator
	profile domain.KMEStatus
	metrics KMEMetrics
}

// NewKMEService は新しいKMEServiceを生成する。
// profileはstatusで返す静的な設定値で、SlaveSAEIDは要求ごとに上書きされる。
func NewKMEService(store KeyStore, gen KeyGenerator, profile domain.KMEStatus, metrics KMEMetrics) *KMEService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &KMEService{
		store:   store,
		gen:     gen,
		profile: profile,
		metrics: metrics,
	}
}

// DefaultKeySize はサイズ指定のない鍵要求に使うビット長を返す。
func (s *KMEService) DefaultKeySize() int {
	return s.profile.KeySize
}

// Status はKMEの能力情報を返す。ストアの状態には依存しない。
func (s *KMEService) Status(slaveSAEID string) *domain.KMEStatus {
	status := s.profile
	status.SlaveSAEID = slaveSAEID
	return &status
}

// RequestEncryptionKeys は新しい鍵をnumber個生成して保存し、生成順に返す。
// 呼び出すたびに新しい鍵が発行されるため冪等ではない。
func (s *KMEService) RequestEncryptionKeys(ctx context.Context, slaveSAEID string, number, sizeBits int) ([]*domain.Key, error) {
	if number < 1 {
		return nil, fmt.Errorf("%w: number must be at least 1, got %d", domain.ErrInvalidRequest, number)
	}
	if sizeBits <= 0 || sizeBits%8 != 0 {
		return nil, fmt.Errorf("%w: size must be a positive multiple of 8, got %d", domain.ErrInvalidRequest, sizeBits)
	}

	keys := make([]*domain.Key, 0, number)
	for i := 0; i < number; i++ {
		key, err := s.gen.Generate(sizeBits)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		key.OwnerSAE = slaveSAEID
		keys = append(keys, key)
	}

	if err := s.store.Put(ctx, keys...); err != nil {
		return nil, fmt.Errorf("storing keys: %w", err)
	}

	slog.InfoContext(ctx, "issued encryption keys",
		"slave_sae_id", slaveSAEID,
		"key_count", len(keys),
		"size_bits", sizeBits,
	)
	s.metrics.KeysIssued(slaveSAEID, len(keys))
	return keys, nil
}

// RequestDecryptionKeys は指定IDの鍵を返す。見つからないIDは読み飛ばし、
// 1件も見つからない場合のみErrKeyNotFoundを返す。
// 鍵は削除せず使用回数だけを増やすため、同じメッセージを何度でも復号できる。
func (s *KMEService) RequestDecryptionKeys(ctx context.Context, masterSAEID string, keyIDs []string) ([]*domain.Key, error) {
	found := make([]*domain.Key, 0, len(keyIDs))
	foundIDs := make([]string, 0, len(keyIDs))
	for _, id := range keyIDs {
		key, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrKeyNotFound) {
				slog.WarnContext(ctx, "requested key not found",
					"master_sae_id", masterSAEID,
					"key_id", id,
				)
				continue
			}
			return nil, fmt.Errorf("finding key: %w", err)
		}
		found = append(found, key)
		foundIDs = append(foundIDs, id)
	}

	if missed := len(keyIDs) - len(found); missed > 0 {
		s.metrics.KeysMissed(masterSAEID, missed)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: none of %d requested key IDs matched", domain.ErrKeyNotFound, len(keyIDs))
	}

	if err := s.store.Touch(ctx, foundIDs...); err != nil {
		return nil, fmt.Errorf("marking keys used: %w", err)
	}
	for _, k := range found {
		k.UsedCount++
	}

	slog.InfoContext(ctx, "retrieved decryption keys",
		"master_sae_id", masterSAEID,
		"requested", len(keyIDs),
		"key_count", len(found),
	)
	s.metrics.KeysRetrieved(masterSAEID, len(found))
	return found, nil
}
