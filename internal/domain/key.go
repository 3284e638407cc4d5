// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// Key はKMEが払い出すQKD鍵を表す。
type Key struct {
	ID            string
	Material      []byte
	RequestedBits int
	OwnerSAE      string
	UsedCount     int
	CreatedAt     time.Time
}

// Bits は鍵素材のビット長を返す。
func (k *Key) Bits() int {
	return len(k.Material) * 8
}

// KMEStatus はKMEの静的な能力情報を表す。
type KMEStatus struct {
	SourceKMEID      string
	TargetKMEID      string
	MasterSAEID      string
	SlaveSAEID       string
	KeySize          int
	StoredKeyCount   int
	MaxKeyCount      int
	MaxKeyPerRequest int
	MaxKeySize       int
	MinKeySize       int
	MaxSAEIDCount    int
}
