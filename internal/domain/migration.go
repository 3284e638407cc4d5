package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はデータベースマイグレーションを表すドメインモデル
type Migration struct {
	Version   string          `json:"version"`              // マイグレーションバージョン（例: "001", "002"）
	Name      string          `json:"name"`                 // マイグレーション名（ファイル名から抽出）
	AppliedAt *time.Time      `json:"applied_at,omitempty"` // 適用日時（未適用の場合はnil）
	Path      string          `json:"-"`                    // マイグレーションファイルのパス（fs.FS内）
	Status    MigrationStatus `json:"status"`               // 適用状態
}
