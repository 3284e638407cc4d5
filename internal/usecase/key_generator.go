package usecase

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"qkd-mail-service/internal/domain"
)

// RandomKeyGenerator は暗号論的乱数で鍵素材を生成する。
type RandomKeyGenerator struct {
	rand io.Reader
	now  func() time.Time
}

// NewRandomKeyGenerator は新しいRandomKeyGeneratorを生成する。
func NewRandomKeyGenerator() *RandomKeyGenerator {
	return &RandomKeyGenerator{
		rand: rand.Reader,
		now:  time.Now,
	}
}

// Generate は指定ビット長の鍵素材と新しいUUIDの鍵IDを生成する。
func (g *RandomKeyGenerator) Generate(sizeBits int) (*domain.Key, error) {
	if sizeBits <= 0 || sizeBits%8 != 0 {
		return nil, fmt.Errorf("%w: size must be a positive multiple of 8, got %d", domain.ErrInvalidRequest, sizeBits)
	}

	material := make([]byte, sizeBits/8)
	if _, err := io.ReadFull(g.rand, material); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating key ID: %w", err)
	}

	return &domain.Key{
		ID:            id.String(),
		Material:      material,
		RequestedBits: sizeBits,
		CreatedAt:     g.now().UTC(),
	}, nil
}
