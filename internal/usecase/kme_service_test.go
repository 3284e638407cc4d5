package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"qkd-mail-service/internal/domain"
)

// mockKeyStore はテスト用のモック鍵ストア。
type mockKeyStore struct {
	keys     map[string]*domain.Key
	putErr   error
	getErr   error
	touchErr error
	touched  []string
}

func newMockKeyStore() *mockKeyStore {
	return &mockKeyStore{keys: make(map[string]*domain.Key)}
}

func (m *mockKeyStore) Load(ctx context.Context) error { return nil }

func (m *mockKeyStore) Put(ctx context.Context, keys ...*domain.Key) error {
	if m.putErr != nil {
		return m.putErr
	}
	for _, k := range keys {
		if _, ok := m.keys[k.ID]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, k.ID)
		}
	}
	for _, k := range keys {
		c := *k
		m.keys[k.ID] = &c
	}
	return nil
}

func (m *mockKeyStore) Get(ctx context.Context, keyID string) (*domain.Key, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	k, ok := m.keys[keyID]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	c := *k
	return &c, nil
}

func (m *mockKeyStore) Touch(ctx context.Context, keyIDs ...string) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	for _, id := range keyIDs {
		m.keys[id].UsedCount++
	}
	m.touched = append(m.touched, keyIDs...)
	return nil
}

func (m *mockKeyStore) Persist(ctx context.Context) error { return nil }

func (m *mockKeyStore) Count(ctx context.Context) (int, error) { return len(m.keys), nil }

// sequenceKeyGenerator は連番IDの鍵を生成するテスト用ジェネレータ。
type sequenceKeyGenerator struct {
	n   int
	err error
}

func (g *sequenceKeyGenerator) Generate(sizeBits int) (*domain.Key, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.n++
	material := make([]byte, sizeBits/8)
	for i := range material {
		material[i] = byte(g.n)
	}
	return &domain.Key{
		ID:            fmt.Sprintf("key-%03d", g.n),
		Material:      material,
		RequestedBits: sizeBits,
	}, nil
}

// recordingMetrics は記録された件数を保持するテスト用メトリクス。
type recordingMetrics struct {
	issued, retrieved, missed int
}

func (r *recordingMetrics) KeysIssued(_ string, n int)    { r.issued += n }
func (r *recordingMetrics) KeysRetrieved(_ string, n int) { r.retrieved += n }
func (r *recordingMetrics) KeysMissed(_ string, n int)    { r.missed += n }

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

func TestKMEService_Status(t *testing.T) {
	svc := NewKMEService(newMockKeyStore(), &sequenceKeyGenerator{}, testProfile(), nil)

	status := svc.Status("RECEIVER_SAE")
	if status.SlaveSAEID != "RECEIVER_SAE" {
		t.Errorf("want slave_SAE_ID RECEIVER_SAE, got %s", status.SlaveSAEID)
	}
	if status.KeySize != 256 {
		t.Errorf("want key_size 256, got %d", status.KeySize)
	}

	// 返り値を書き換えても次の応答に影響しない
	status.KeySize = 1
	if again := svc.Status("OTHER"); again.KeySize != 256 || again.SlaveSAEID != "OTHER" {
		t.Errorf("status profile was mutated: %+v", again)
	}
}

func TestKMEService_RequestEncryptionKeys_Success(t *testing.T) {
	store := newMockKeyStore()
	metrics := &recordingMetrics{}
	svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), metrics)

	keys, err := svc.RequestEncryptionKeys(context.Background(), "RECEIVER_SAE", 3, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(keys) != 3 {
		t.Fatalf("want 3 keys, got %d", len(keys))
	}
	for i, k := range keys {
		if want := fmt.Sprintf("key-%03d", i+1); k.ID != want {
			t.Errorf("keys[%d]: want id %s, got %s", i, want, k.ID)
		}
		if len(k.Material) != 32 {
			t.Errorf("keys[%d]: want 32 bytes, got %d", i, len(k.Material))
		}
		if k.OwnerSAE != "RECEIVER_SAE" {
			t.Errorf("keys[%d]: want owner RECEIVER_SAE, got %s", i, k.OwnerSAE)
		}
		if _, ok := store.keys[k.ID]; !ok {
			t.Errorf("keys[%d] was not stored", i)
		}
	}
	if metrics.issued != 3 {
		t.Errorf("want 3 issued, got %d", metrics.issued)
	}
}

func TestKMEService_RequestEncryptionKeys_NotIdempotent(t *testing.T) {
	svc := NewKMEService(newMockKeyStore(), &sequenceKeyGenerator{}, testProfile(), nil)
	ctx := context.Background()

	first, err := svc.RequestEncryptionKeys(ctx, "RECEIVER_SAE", 1, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.RequestEncryptionKeys(ctx, "RECEIVER_SAE", 1, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first[0].ID == second[0].ID {
		t.Errorf("want distinct key IDs, got %s twice", first[0].ID)
	}
}

func TestKMEService_RequestEncryptionKeys_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		number int
		size   int
	}{
		{"zero number", 0, 256},
		{"negative number", -1, 256},
		{"zero size", 1, 0},
		{"size not multiple of 8", 1, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockKeyStore()
			svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), nil)

			_, err := svc.RequestEncryptionKeys(context.Background(), "RECEIVER_SAE", tt.number, tt.size)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("want ErrInvalidRequest, got %v", err)
			}
			if len(store.keys) != 0 {
				t.Errorf("want no stored keys, got %d", len(store.keys))
			}
		})
	}
}

func TestKMEService_RequestEncryptionKeys_StoreError(t *testing.T) {
	store := newMockKeyStore()
	store.putErr = domain.ErrKeyStoreUnavailable
	metrics := &recordingMetrics{}
	svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), metrics)

	_, err := svc.RequestEncryptionKeys(context.Background(), "RECEIVER_SAE", 1, 256)
	if !errors.Is(err, domain.ErrKeyStoreUnavailable) {
		t.Errorf("want ErrKeyStoreUnavailable, got %v", err)
	}
	if metrics.issued != 0 {
		t.Errorf("want no issued keys recorded, got %d", metrics.issued)
	}
}

func TestKMEService_RequestEncryptionKeys_GeneratorError(t *testing.T) {
	gen := &sequenceKeyGenerator{err: errors.New("entropy exhausted")}
	store := newMockKeyStore()
	svc := NewKMEService(store, gen, testProfile(), nil)

	if _, err := svc.RequestEncryptionKeys(context.Background(), "RECEIVER_SAE", 2, 256); err == nil {
		t.Fatal("want error, got nil")
	}
	if len(store.keys) != 0 {
		t.Errorf("want no stored keys, got %d", len(store.keys))
	}
}

func TestKMEService_RequestDecryptionKeys_Success(t *testing.T) {
	store := newMockKeyStore()
	metrics := &recordingMetrics{}
	svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), metrics)
	ctx := context.Background()

	issued, err := svc.RequestEncryptionKeys(ctx, "RECEIVER_SAE", 1, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys, err := svc.RequestDecryptionKeys(ctx, "SENDER_SAE", []string{issued[0].ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != issued[0].ID {
		t.Fatalf("want key %s, got %+v", issued[0].ID, keys)
	}
	if string(keys[0].Material) != string(issued[0].Material) {
		t.Error("decryption key material differs from issued material")
	}
	if keys[0].UsedCount != 1 {
		t.Errorf("want used_count 1, got %d", keys[0].UsedCount)
	}

	// 鍵は削除されず、繰り返し取得できる
	keys, err = svc.RequestDecryptionKeys(ctx, "SENDER_SAE", []string{issued[0].ID})
	if err != nil {
		t.Fatalf("second retrieval failed: %v", err)
	}
	if keys[0].UsedCount != 2 {
		t.Errorf("want used_count 2, got %d", keys[0].UsedCount)
	}
	if metrics.retrieved != 2 {
		t.Errorf("want 2 retrieved, got %d", metrics.retrieved)
	}
}

func TestKMEService_RequestDecryptionKeys_SkipsUnknownIDs(t *testing.T) {
	store := newMockKeyStore()
	metrics := &recordingMetrics{}
	svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), metrics)
	ctx := context.Background()

	issued, err := svc.RequestEncryptionKeys(ctx, "RECEIVER_SAE", 2, 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys, err := svc.RequestDecryptionKeys(ctx, "SENDER_SAE", []string{"missing", issued[1].ID, issued[0].ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("want 2 keys, got %d", len(keys))
	}
	// 要求順を保つ
	if keys[0].ID != issued[1].ID || keys[1].ID != issued[0].ID {
		t.Errorf("keys are not in request order: %s, %s", keys[0].ID, keys[1].ID)
	}
	if len(store.touched) != 2 {
		t.Errorf("want 2 touched keys, got %v", store.touched)
	}
	if metrics.missed != 1 {
		t.Errorf("want 1 missed, got %d", metrics.missed)
	}
}

func TestKMEService_RequestDecryptionKeys_NoneFound(t *testing.T) {
	store := newMockKeyStore()
	svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), nil)

	tests := []struct {
		name string
		ids  []string
	}{
		{"unknown ids", []string{"a", "b"}},
		{"empty list", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestDecryptionKeys(context.Background(), "SENDER_SAE", tt.ids)
			if !errors.Is(err, domain.ErrKeyNotFound) {
				t.Errorf("want ErrKeyNotFound, got %v", err)
			}
		})
	}
	if len(store.touched) != 0 {
		t.Errorf("want no touched keys, got %v", store.touched)
	}
}

func TestKMEService_RequestDecryptionKeys_StoreError(t *testing.T) {
	store := newMockKeyStore()
	store.getErr = domain.ErrKeyStoreUnavailable
	svc := NewKMEService(store, &sequenceKeyGenerator{}, testProfile(), nil)

	_, err := svc.RequestDecryptionKeys(context.Background(), "SENDER_SAE", []string{"a"})
	if !errors.Is(err, domain.ErrKeyStoreUnavailable) {
		t.Errorf("want ErrKeyStoreUnavailable, got %v", err)
	}
}

func TestRandomKeyGenerator_Generate(t *testing.T) {
	gen := NewRandomKeyGenerator()

	a, err := gen.Generate(256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := gen.Generate(256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a.Material) != 32 {
		t.Errorf("want 32 bytes, got %d", len(a.Material))
	}
	if a.ID == b.ID {
		t.Error("want distinct key IDs")
	}
	if string(a.Material) == string(b.Material) {
		t.Error("want distinct key material")
	}
	if _, err := gen.Generate(12); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("want ErrInvalidRequest for 12 bits, got %v", err)
	}
}
