package infra

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSSealer はSQL鍵ストアに保存するQKD鍵素材をCloud KMSで封緘する。
// repository.KeySealerを満たす。
type KMSSealer struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSSealer はKMS_KEY_NAMEの暗号鍵で封緘するKMSSealerを生成する。
// keyNameは projects/*/locations/*/keyRings/*/cryptoKeys/* 形式。
func NewKMSSealer(ctx context.Context, keyName string) (*KMSSealer, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	return &KMSSealer{client: client, keyName: keyName}, nil
}

// Seal は鍵素材を暗号化する。QKD鍵IDを付加データとして束縛する。
func (s *KMSSealer) Seal(ctx context.Context, keyID string, material []byte) ([]byte, error) {
	resp, err := s.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        s.keyName,
		Plaintext:                   material,
		AdditionalAuthenticatedData: []byte(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("sealing key %s: %w", keyID, err)
	}
	return resp.Ciphertext, nil
}

// Unseal は封緘された鍵素材を復号する。
func (s *KMSSealer) Unseal(ctx context.Context, keyID string, sealed []byte) ([]byte, error) {
	resp, err := s.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                        s.keyName,
		Ciphertext:                  sealed,
		AdditionalAuthenticatedData: []byte(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("unsealing key %s: %w", keyID, err)
	}
	return resp.Plaintext, nil
}

func (s *KMSSealer) Close() error {
	return s.client.Close()
}
