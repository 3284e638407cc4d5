package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"

	"qkd-mail-service/internal/domain"
)

// DeriveSessionKey はQKD鍵素材とKEM共有秘密を連結してSHA-256でハッシュし、
// L3のセッション鍵を導出する。
func DeriveSessionKey(qkdKey, sharedSecret []byte) []byte {
	h := sha256.New()
	h.Write(qkdKey)
	h.Write(sharedSecret)
	return h.Sum(nil)
}

// Decapsulate はKEM秘密鍵とKEM暗号文から共有秘密を復元する。
func (e *Engine) Decapsulate(secretKey, kemCiphertext []byte) ([]byte, error) {
	sk, err := e.scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking KEM secret key: %v", domain.ErrCipherFailure, err)
	}
	if len(kemCiphertext) != e.scheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: KEM ciphertext must be %d bytes, got %d", domain.ErrCipherFailure, e.scheme.CiphertextSize(), len(kemCiphertext))
	}
	ss, err := e.scheme.Decapsulate(sk, kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decapsulating: %v", domain.ErrCipherFailure, err)
	}
	return ss, nil
}

// encapsulate は使い捨てのKEM鍵ペアを生成し、その公開鍵に対してカプセル化する。
// 戻り値は共有秘密、KEM暗号文、KEM秘密鍵の順。
func (e *Engine) encapsulate() (sharedSecret, kemCiphertext, secretKey []byte, err error) {
	seed := make([]byte, e.scheme.SeedSize())
	if _, err := io.ReadFull(e.rand, seed); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: generating KEM seed: %v", domain.ErrCipherFailure, err)
	}
	pk, sk := e.scheme.DeriveKeyPair(seed)

	encSeed := make([]byte, e.scheme.EncapsulationSeedSize())
	if _, err := io.ReadFull(e.rand, encSeed); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: generating encapsulation seed: %v", domain.ErrCipherFailure, err)
	}
	ct, ss, err := e.scheme.EncapsulateDeterministically(pk, encSeed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: encapsulating: %v", domain.ErrCipherFailure, err)
	}

	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: packing KEM secret key: %v", domain.ErrCipherFailure, err)
	}
	return ss, ct, skBytes, nil
}

func (e *Engine) encryptHybrid(plaintext, qkdKey []byte) (string, domain.HybridParams, error) {
	ss, kemCT, sk, err := e.encapsulate()
	if err != nil {
		return "", domain.HybridParams{}, err
	}

	ciphertext, nonce, err := e.encryptStream(plaintext, DeriveSessionKey(qkdKey, ss))
	if err != nil {
		return "", domain.HybridParams{}, err
	}

	// KEM秘密鍵をメタデータに載せるのは既知の欠陥（domain.HybridParams参照）。
	return ciphertext, domain.HybridParams{
		Nonce:         nonce,
		KEMCiphertext: kemCT,
		KEMSecret:     sk,
	}, nil
}

func (e *Engine) decryptHybrid(ciphertext string, qkdKey []byte, p domain.HybridParams) ([]byte, error) {
	ss, err := e.Decapsulate(p.KEMSecret, p.KEMCiphertext)
	if err != nil {
		return nil, err
	}
	return decryptStream(ciphertext, DeriveSessionKey(qkdKey, ss), p.Nonce)
}
