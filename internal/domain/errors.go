package domain

import "errors"

var (
	// ErrInvalidRequest は鍵要求のパラメータ（個数・ビット長）が不正な場合のエラー。
	ErrInvalidRequest = errors.New("invalid key request")

	// ErrDuplicateKey は同一の鍵IDが既に保存されている場合のエラー。
	ErrDuplicateKey = errors.New("duplicate key ID")

	// ErrKeyNotFound は指定された鍵IDに一致する鍵が存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyStoreUnavailable は鍵ストアの永続化に失敗した場合のエラー。
	ErrKeyStoreUnavailable = errors.New("key store unavailable")

	// ErrServiceUnavailable はKMEに到達できない、またはタイムアウトした場合のエラー。
	ErrServiceUnavailable = errors.New("KME service unavailable")

	// ErrUnsupportedSecurityLevel は未知のセキュリティレベルが指定された場合のエラー。
	ErrUnsupportedSecurityLevel = errors.New("unsupported security level")

	// ErrMissingMetadataField は復号に必要なメタデータ項目が欠けている場合のエラー。
	ErrMissingMetadataField = errors.New("missing metadata field")

	// ErrEnvelopeFormat はエンベロープの区切り行が見つからない場合のエラー。
	ErrEnvelopeFormat = errors.New("invalid envelope format")

	// ErrMetadataDecode はメタデータのJSONが不正な場合のエラー。
	ErrMetadataDecode = errors.New("metadata decode error")

	// ErrCipherFailure は暗号・復号処理やデコードに失敗した場合のエラー。
	ErrCipherFailure = errors.New("cipher failure")

	// ErrMessageNotFound は指定されたフォルダ・IDのメッセージが存在しない場合のエラー。
	ErrMessageNotFound = errors.New("message not found")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
