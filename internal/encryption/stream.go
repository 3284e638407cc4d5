package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"

	"qkd-mail-service/internal/domain"
)

const streamKeySize = 32 // AES-256 = 256 bits = 32 bytes

func newStreamBlock(key []byte) (cipher.Block, error) {
	if len(key) != streamKeySize {
		return nil, fmt.Errorf("%w: AES-256 requires a %d-byte key, got %d", domain.ErrCipherFailure, streamKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCipherFailure, err)
	}
	return block, nil
}

// encryptStream はAES-256-CFBで暗号化し、base64の暗号文と生のIVを返す。
func (e *Engine) encryptStream(plaintext, key []byte) (string, []byte, error) {
	block, err := newStreamBlock(key)
	if err != nil {
		return "", nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(e.rand, iv); err != nil {
		return "", nil, fmt.Errorf("%w: generating IV: %v", domain.ErrCipherFailure, err)
	}

	ct := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(ct, plaintext)
	return base64.StdEncoding.EncodeToString(ct), iv, nil
}

func decryptStream(ciphertext string, key, iv []byte) ([]byte, error) {
	ct, err := decodeBase64("ciphertext", ciphertext)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", domain.ErrCipherFailure, aes.BlockSize, len(iv))
	}
	block, err := newStreamBlock(key)
	if err != nil {
		return nil, err
	}

	pt := make([]byte, len(ct))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(pt, ct)
	return pt, nil
}
