package domain

import "fmt"

// LevelParams はセキュリティレベル固有のメタデータを表す。
// 実装はこのパッケージ内の4種類に限られる。
type LevelParams interface {
	Level() SecurityLevel
	validate() error
}

// OTPParams はL1（ワンタイムパッド）のパラメータ。追加項目はない。
type OTPParams struct{}

// StreamParams はL2（AES-256-CFB）のパラメータ。
type StreamParams struct {
	Nonce []byte
}

// HybridParams はL3（ML-KEM + QKD）のパラメータ。
//
// KEMSecret はKEMの秘密鍵そのものであり、エンベロープを入手した者は誰でも
// 共有秘密を復元できる。KEMを使う意味を失わせる既知の設計上の欠陥だが、
// 既存の送受信相手との互換性のため現状の挙動を維持している。
// 秘密鍵を送信者側に留めるかどうかはプロダクト判断が必要。
type HybridParams struct {
	Nonce         []byte
	KEMCiphertext []byte
	KEMSecret     []byte
}

// PassthroughParams はL4（暗号化なし）のパラメータ。
type PassthroughParams struct{}

// Level はL1を返す。
func (OTPParams) Level() SecurityLevel { return SecurityLevelOTP }

// Level はL2を返す。
func (StreamParams) Level() SecurityLevel { return SecurityLevelStream }

// Level はL3を返す。
func (HybridParams) Level() SecurityLevel { return SecurityLevelHybrid }

// Level はL4を返す。
func (PassthroughParams) Level() SecurityLevel { return SecurityLevelNone }

func (OTPParams) validate() error { return nil }

func (p StreamParams) validate() error {
	if len(p.Nonce) == 0 {
		return fmt.Errorf("%w: nonce", ErrMissingMetadataField)
	}
	return nil
}

func (p HybridParams) validate() error {
	switch {
	case len(p.Nonce) == 0:
		return fmt.Errorf("%w: nonce", ErrMissingMetadataField)
	case len(p.KEMCiphertext) == 0:
		return fmt.Errorf("%w: kem_ciphertext", ErrMissingMetadataField)
	case len(p.KEMSecret) == 0:
		return fmt.Errorf("%w: kem_secret", ErrMissingMetadataField)
	}
	return nil
}

func (PassthroughParams) validate() error { return nil }

// EncryptionMetadata は復号に必要な情報を表す。
type EncryptionMetadata struct {
	KeyID         string
	SenderSAEID   string
	ReceiverSAEID string
	AlgorithmInfo string
	Params        LevelParams
}

// NewEncryptionMetadata はレベル固有の必須項目を検証してメタデータを生成する。
func NewEncryptionMetadata(keyID, senderSAEID, receiverSAEID, algorithmInfo string, params LevelParams) (*EncryptionMetadata, error) {
	md := &EncryptionMetadata{
		KeyID:         keyID,
		SenderSAEID:   senderSAEID,
		ReceiverSAEID: receiverSAEID,
		AlgorithmInfo: algorithmInfo,
		Params:        params,
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// SecurityLevel はメタデータが宣言するセキュリティレベルを返す。
func (m *EncryptionMetadata) SecurityLevel() SecurityLevel {
	if m.Params == nil {
		return ""
	}
	return m.Params.Level()
}

// Validate は宣言されたレベルに必要な項目がすべて揃っているか検証する。
func (m *EncryptionMetadata) Validate() error {
	if m.Params == nil {
		return fmt.Errorf("%w: security_level", ErrMissingMetadataField)
	}
	return m.Params.validate()
}
