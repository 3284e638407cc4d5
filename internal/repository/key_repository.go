// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"qkd-mail-service/internal/domain"
)

// QKDKeyModel はgorm用のモデル定義。
type QKDKeyModel struct {
	KeyID         string    `gorm:"column:key_id;type:varchar(36);primaryKey"`
	Material      []byte    `gorm:"column:material;type:blob;not null"`
	RequestedBits int       `gorm:"column:requested_bits;not null"`
	SlaveSAE      string    `gorm:"column:slave_sae;type:varchar(64);not null;index:idx_slave_sae"`
	UsedCount     int       `gorm:"column:used_count;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (QKDKeyModel) TableName() string {
	return "qkd_keys"
}

// KeySealer は保存前に鍵素材を暗号化するインターフェース。
// keyIDは封緘時の付加データで、別の鍵IDでは開封できない。
type KeySealer interface {
	Seal(ctx context.Context, keyID string, material []byte) ([]byte, error)
	Unseal(ctx context.Context, keyID string, sealed []byte) ([]byte, error)
}

// KeyRepository はQKD鍵をSQLデータベースに保存する鍵ストア。
// sealerが設定されている場合、鍵素材はCloud KMSで暗号化して保存する。
type KeyRepository struct {
	db     *gorm.DB
	sealer KeySealer
}

// NewKeyRepository は新しいKeyRepositoryを生成する。sealerはnilでもよい。
func NewKeyRepository(db *gorm.DB, sealer KeySealer) *KeyRepository {
	return &KeyRepository{db: db, sealer: sealer}
}

// Load はデータベースへの疎通を確認する。
func (r *KeyRepository) Load(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ping database",
			"operation", "load",
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}
	return nil
}

// Put は鍵をまとめて保存する。1件でも重複すればトランザクションごと破棄する。
func (r *KeyRepository) Put(ctx context.Context, keys ...*domain.Key) error {
	models := make([]*QKDKeyModel, 0, len(keys))
	for _, k := range keys {
		material, err := r.seal(ctx, k.ID, k.Material)
		if err != nil {
			return err
		}
		models = append(models, &QKDKeyModel{
			KeyID:         k.ID,
			Material:      material,
			RequestedBits: k.RequestedBits,
			SlaveSAE:      k.OwnerSAE,
			UsedCount:     k.UsedCount,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range models {
			var count int64
			if err := tx.Model(&QKDKeyModel{}).Where("key_id = ?", m.KeyID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, m.KeyID)
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return err
		}
		slog.ErrorContext(ctx, "failed to create keys",
			"operation", "put",
			"key_count", len(keys),
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}

	for i, k := range keys {
		k.CreatedAt = models[i].CreatedAt
	}
	return nil
}

// Get は鍵IDに一致する鍵を取得する。
func (r *KeyRepository) Get(ctx context.Context, keyID string) (*domain.Key, error) {
	var model QKDKeyModel
	err := r.db.WithContext(ctx).
		Where("key_id = ?", keyID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, keyID)
		}
		slog.ErrorContext(ctx, "failed to find key",
			"operation", "get",
			"key_id", keyID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}

	material, err := r.unseal(ctx, model.KeyID, model.Material)
	if err != nil {
		return nil, err
	}
	return &domain.Key{
		ID:            model.KeyID,
		Material:      material,
		RequestedBits: model.RequestedBits,
		OwnerSAE:      model.SlaveSAE,
		UsedCount:     model.UsedCount,
		CreatedAt:     model.CreatedAt,
	}, nil
}

// Touch は鍵の使用回数を1ずつ増やす。存在しないIDがあれば何も更新しない。
func (r *KeyRepository) Touch(ctx context.Context, keyIDs ...string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range keyIDs {
			res := tx.Model(&QKDKeyModel{}).
				Where("key_id = ?", id).
				UpdateColumn("used_count", gorm.Expr("used_count + ?", 1))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, id)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return err
		}
		slog.ErrorContext(ctx, "failed to update used_count",
			"operation", "touch",
			"key_ids", keyIDs,
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}
	return nil
}

// Persist はコミット時点で永続化済みのため何もしない。
func (r *KeyRepository) Persist(ctx context.Context) error {
	return nil
}

// Count は保存されている鍵の件数を返す。
func (r *KeyRepository) Count(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&QKDKeyModel{}).Count(&count).Error; err != nil {
		slog.ErrorContext(ctx, "failed to count keys",
			"operation", "count",
			"error", err,
		)
		return 0, fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}
	return int(count), nil
}

func (r *KeyRepository) seal(ctx context.Context, keyID string, material []byte) ([]byte, error) {
	if r.sealer == nil {
		return material, nil
	}
	sealed, err := r.sealer.Seal(ctx, keyID, material)
	if err != nil {
		return nil, fmt.Errorf("%w: sealing key material: %v", domain.ErrKeyStoreUnavailable, err)
	}
	return sealed, nil
}

func (r *KeyRepository) unseal(ctx context.Context, keyID string, material []byte) ([]byte, error) {
	if r.sealer == nil {
		return material, nil
	}
	plain, err := r.sealer.Unseal(ctx, keyID, material)
	if err != nil {
		return nil, fmt.Errorf("%w: unsealing key material: %v", domain.ErrKeyStoreUnavailable, err)
	}
	return plain, nil
}
