// Package encryption はセキュリティレベルごとの暗号方式を実装する。
//
// 対応する方式は次の4つに固定されている。
//
//	L1: QKD鍵とのXORによるワンタイムパッド
//	L2: QKD鍵によるAES-256-CFB
//	L3: ML-KEM-512の共有秘密とQKD鍵をSHA-256で結合したセッション鍵によるAES-256-CFB
//	L4: 暗号化なし
package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"

	"qkd-mail-service/internal/domain"
)

// メタデータのalgorithm_infoに記録する方式名。
const (
	AlgorithmOTP    = "OTP"
	AlgorithmStream = "AES-256-CFB"
	AlgorithmHybrid = "Hybrid-PQC+QKD"
	AlgorithmNone   = "None"
)

// Engine はセキュリティレベルに応じて暗号化・復号を振り分ける。
// 呼び出しをまたいだ内部状態は持たない。
type Engine struct {
	rand   io.Reader
	scheme kem.Scheme
}

// Option はEngineの設定を変更する。
type Option func(*Engine)

// WithRandom はIVやKEM鍵ペアの生成に使う乱数源を差し替える。
func WithRandom(r io.Reader) Option {
	return func(e *Engine) {
		e.rand = r
	}
}

// NewEngine は新しいEngineを生成する。
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rand:   rand.Reader,
		scheme: mlkem512.Scheme(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encrypt は平文を指定レベルで暗号化し、暗号文と復号用メタデータを返す。
func (e *Engine) Encrypt(plaintext string, key []byte, keyID string, level domain.SecurityLevel, senderSAEID, receiverSAEID string) (string, *domain.EncryptionMetadata, error) {
	var (
		ciphertext string
		algorithm  string
		params     domain.LevelParams
		err        error
	)

	switch level {
	case domain.SecurityLevelOTP:
		ciphertext, err = encryptOTP([]byte(plaintext), key)
		algorithm = AlgorithmOTP
		params = domain.OTPParams{}
	case domain.SecurityLevelStream:
		var nonce []byte
		ciphertext, nonce, err = e.encryptStream([]byte(plaintext), key)
		algorithm = AlgorithmStream
		params = domain.StreamParams{Nonce: nonce}
	case domain.SecurityLevelHybrid:
		var p domain.HybridParams
		ciphertext, p, err = e.encryptHybrid([]byte(plaintext), key)
		algorithm = AlgorithmHybrid
		params = p
	case domain.SecurityLevelNone:
		ciphertext = plaintext
		algorithm = AlgorithmNone
		params = domain.PassthroughParams{}
	default:
		return "", nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedSecurityLevel, level)
	}
	if err != nil {
		return "", nil, err
	}

	md, err := domain.NewEncryptionMetadata(keyID, senderSAEID, receiverSAEID, algorithm, params)
	if err != nil {
		return "", nil, err
	}
	return ciphertext, md, nil
}

// Decrypt はメタデータが宣言するレベルで暗号文を復号する。
func (e *Engine) Decrypt(ciphertext string, key []byte, md *domain.EncryptionMetadata) (string, error) {
	if md == nil {
		return "", fmt.Errorf("%w: metadata", domain.ErrMissingMetadataField)
	}
	if err := md.Validate(); err != nil {
		return "", err
	}

	var (
		plaintext []byte
		err       error
	)
	switch p := md.Params.(type) {
	case domain.OTPParams:
		plaintext, err = decryptOTP(ciphertext, key)
	case domain.StreamParams:
		plaintext, err = decryptStream(ciphertext, key, p.Nonce)
	case domain.HybridParams:
		plaintext, err = e.decryptHybrid(ciphertext, key, p)
	case domain.PassthroughParams:
		return ciphertext, nil
	default:
		return "", fmt.Errorf("%w: %T", domain.ErrUnsupportedSecurityLevel, md.Params)
	}
	if err != nil {
		return "", err
	}

	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", domain.ErrCipherFailure)
	}
	return string(plaintext), nil
}

func decodeBase64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", domain.ErrCipherFailure, field, err)
	}
	return b, nil
}
