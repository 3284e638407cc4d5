package encryption

import (
	"encoding/base64"
	"fmt"

	"qkd-mail-service/internal/domain"
)

// ExtendKey は鍵をnバイトに揃える。
// 鍵が短い場合は自身を繰り返し連結して切り詰める。これは真のOTPの安全性を
// 弱めるが、払い出された鍵長より長い本文も扱えるようにするための既存仕様である。
func ExtendKey(key []byte, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key material", domain.ErrCipherFailure)
	}

	out := make([]byte, n)
	for i := 0; i < n; i += len(key) {
		copy(out[i:], key)
	}
	return out, nil
}

func xorBytes(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i]
	}
	return out
}

func encryptOTP(plaintext, key []byte) (string, error) {
	pad, err := ExtendKey(key, len(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(xorBytes(plaintext, pad)), nil
}

func decryptOTP(ciphertext string, key []byte) ([]byte, error) {
	ct, err := decodeBase64("ciphertext", ciphertext)
	if err != nil {
		return nil, err
	}
	pad, err := ExtendKey(key, len(ct))
	if err != nil {
		return nil, err
	}
	return xorBytes(ct, pad), nil
}
