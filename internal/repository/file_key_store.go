package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"qkd-mail-service/internal/domain"
)

// storedKey は鍵ストアファイル上の1件分の表現。
type storedKey struct {
	Key       string `json:"key"`
	SlaveSAE  string `json:"slave_sae"`
	UsedCount int    `json:"used_count"`
}

// FileKeyStore は鍵IDから鍵へのマップをJSONファイルに永続化する鍵ストア。
// 変更と永続化は同じ書き込みロックの中で行うため、読み取り側が
// 永続化済みの状態より新しい状態を観測することはない。
type FileKeyStore struct {
	mu   sync.RWMutex
	path string
	keys map[string]*domain.Key
}

// NewFileKeyStore は新しいFileKeyStoreを生成する。Loadを呼ぶまでは空。
func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{
		path: path,
		keys: make(map[string]*domain.Key),
	}
}

// Load はファイルから鍵を読み込む。
// ファイルが存在しない、または壊れている場合は空のストアで開始する。
func (s *FileKeyStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = make(map[string]*domain.Key)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.InfoContext(ctx, "key store file not found, starting empty",
				"operation", "load",
				"path", s.path,
			)
			return nil
		}
		slog.ErrorContext(ctx, "failed to read key store file",
			"operation", "load",
			"path", s.path,
			"error", err,
		)
		return fmt.Errorf("%w: reading %s: %v", domain.ErrKeyStoreUnavailable, s.path, err)
	}

	var stored map[string]storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.WarnContext(ctx, "malformed key store file, starting empty",
			"operation", "load",
			"path", s.path,
			"error", err,
		)
		return nil
	}

	keys := make(map[string]*domain.Key, len(stored))
	for id, sk := range stored {
		material, err := base64.StdEncoding.DecodeString(sk.Key)
		if err != nil {
			slog.WarnContext(ctx, "malformed key material in key store file, starting empty",
				"operation", "load",
				"path", s.path,
				"key_id", id,
				"error", err,
			)
			return nil
		}
		keys[id] = &domain.Key{
			ID:            id,
			Material:      material,
			RequestedBits: len(material) * 8,
			OwnerSAE:      sk.SlaveSAE,
			UsedCount:     sk.UsedCount,
		}
	}
	s.keys = keys

	slog.InfoContext(ctx, "key store loaded",
		"operation", "load",
		"path", s.path,
		"key_count", len(keys),
	)
	return nil
}

// Put は鍵をまとめて追加し、永続化する。
// 1件でも既存IDと重複すればどれも追加しない。
func (s *FileKeyStore) Put(ctx context.Context, keys ...*domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := s.keys[k.ID]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, k.ID)
		}
		if _, ok := seen[k.ID]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, k.ID)
		}
		seen[k.ID] = struct{}{}
	}

	for _, k := range keys {
		s.keys[k.ID] = cloneKey(k)
	}
	if err := s.persistLocked(ctx); err != nil {
		for _, k := range keys {
			delete(s.keys, k.ID)
		}
		return err
	}
	return nil
}

// Get は鍵IDに一致する鍵のコピーを返す。
func (s *FileKeyStore) Get(ctx context.Context, keyID string) (*domain.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, keyID)
	}
	return cloneKey(k), nil
}

// Touch は鍵の使用回数を1ずつ増やし、永続化する。
func (s *FileKeyStore) Touch(ctx context.Context, keyIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range keyIDs {
		if _, ok := s.keys[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, id)
		}
	}

	for _, id := range keyIDs {
		s.keys[id].UsedCount++
	}
	if err := s.persistLocked(ctx); err != nil {
		for _, id := range keyIDs {
			s.keys[id].UsedCount--
		}
		return err
	}
	return nil
}

// Persist は現在の内容をファイルへ書き出す。
func (s *FileKeyStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Count は保存されている鍵の件数を返す。
func (s *FileKeyStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}

// persistLocked は一時ファイルに書き込んでからリネームする。
// 呼び出し側が書き込みロックを保持していること。
func (s *FileKeyStore) persistLocked(ctx context.Context) error {
	stored := make(map[string]storedKey, len(s.keys))
	for id, k := range s.keys {
		stored[id] = storedKey{
			Key:       base64.StdEncoding.EncodeToString(k.Material),
			SlaveSAE:  k.OwnerSAE,
			UsedCount: k.UsedCount,
		}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding key store: %v", domain.ErrKeyStoreUnavailable, err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		slog.ErrorContext(ctx, "failed to persist key store",
			"operation", "persist",
			"path", s.path,
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrKeyStoreUnavailable, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// リネーム成功後は存在しないので失敗は無視する
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func cloneKey(k *domain.Key) *domain.Key {
	c := *k
	c.Material = append([]byte(nil), k.Material...)
	return &c
}
