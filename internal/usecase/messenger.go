package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qkd-mail-service/internal/domain"
	"qkd-mail-service/internal/envelope"
)

// KMEClient はKMEへの鍵要求のインターフェース。
// KMEService（同一プロセス）とkmeclient.Client（HTTP）の双方が満たす。
type KMEClient interface {
	RequestEncryptionKeys(ctx context.Context, slaveSAEID string, number, sizeBits int) ([]*domain.Key, error)
	RequestDecryptionKeys(ctx context.Context, masterSAEID string, keyIDs []string) ([]*domain.Key, error)
}

// Cipher はセキュリティレベルに応じた暗号化・復号のインターフェース。
type Cipher interface {
	Encrypt(plaintext string, key []byte, keyID string, level domain.SecurityLevel, senderSAEID, receiverSAEID string) (string, *domain.EncryptionMetadata, error)
	Decrypt(ciphertext string, key []byte, md *domain.EncryptionMetadata) (string, error)
}

// Transport はメッセージ送受信のインターフェース。
type Transport interface {
	Send(ctx context.Context, mail *domain.OutgoingMail) error
	Fetch(ctx context.Context, folder, id string) (*domain.ReceivedMail, error)
}

// MessengerConfig は送受信で使うSAE IDと既定値。
type MessengerConfig struct {
	MasterSAEID  string
	SlaveSAEID   string
	KeySize      int
	DefaultLevel domain.SecurityLevel
}

// Messenger は鍵取得・暗号化・エンベロープ変換を順に呼び出して送受信を行う。
type Messenger struct {
	kme       KMEClient
	cipher    Cipher
	transport Transport
	cfg       MessengerConfig
}

// NewMessenger は新しいMessengerを生成する。transportはnilでもよい。
func NewMessenger(kme KMEClient, cipher Cipher, transport Transport, cfg MessengerConfig) *Messenger {
	return &Messenger{
		kme:       kme,
		cipher:    cipher,
		transport: transport,
		cfg:       cfg,
	}
}

// Seal は平文を指定レベルで送信可能な本文に変換する。
// levelが空の場合は既定レベルを使う。L4では鍵を取得せず本文をそのまま返す。
func (m *Messenger) Seal(ctx context.Context, plaintext string, level domain.SecurityLevel) (*domain.SealedMessage, error) {
	if level == "" {
		level = m.cfg.DefaultLevel
	}
	if _, err := domain.ParseSecurityLevel(string(level)); err != nil {
		return nil, err
	}

	if !level.RequiresKey() {
		return &domain.SealedMessage{
			KeyID:         domain.NoKeyID,
			SecurityLevel: level,
			Body:          plaintext,
			Headers:       map[string]string{},
		}, nil
	}

	keys, err := m.kme.RequestEncryptionKeys(ctx, m.cfg.SlaveSAEID, 1, m.cfg.KeySize)
	if err != nil {
		return nil, fmt.Errorf("requesting encryption key: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: KME returned no keys", domain.ErrServiceUnavailable)
	}
	key := keys[0]

	ciphertext, md, err := m.cipher.Encrypt(plaintext, key.Material, key.ID, level, m.cfg.MasterSAEID, m.cfg.SlaveSAEID)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}

	body, err := envelope.Format(ciphertext, md)
	if err != nil {
		return nil, fmt.Errorf("formatting envelope: %w", err)
	}

	slog.InfoContext(ctx, "message sealed",
		"key_id", key.ID,
		"security_level", level,
	)
	return &domain.SealedMessage{
		KeyID:         key.ID,
		SecurityLevel: level,
		Body:          body,
		Headers: map[string]string{
			domain.HeaderEncryption:    "true",
			domain.HeaderKeyID:         key.ID,
			domain.HeaderSecurityLevel: level.String(),
		},
	}, nil
}

// Open は受信メッセージを平文に戻す。暗号化フラグが無ければ本文をそのまま返す。
func (m *Messenger) Open(ctx context.Context, mail *domain.ReceivedMail) (string, error) {
	if !mail.Flags.IsEncrypted {
		return mail.Body, nil
	}

	ciphertext, md, err := envelope.Parse(mail.Body)
	if err != nil {
		return "", err
	}
	if mail.Flags.KeyID != "" && mail.Flags.KeyID != md.KeyID {
		slog.WarnContext(ctx, "key ID header does not match envelope metadata",
			"header_key_id", mail.Flags.KeyID,
			"metadata_key_id", md.KeyID,
		)
	}

	senderSAE := md.SenderSAEID
	if senderSAE == "" {
		senderSAE = m.cfg.MasterSAEID
	}
	keys, err := m.kme.RequestDecryptionKeys(ctx, senderSAE, []string{md.KeyID})
	if err != nil {
		return "", fmt.Errorf("requesting decryption key: %w", err)
	}

	var key *domain.Key
	for _, k := range keys {
		if k.ID == md.KeyID {
			key = k
			break
		}
	}
	if key == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrKeyNotFound, md.KeyID)
	}

	plaintext, err := m.cipher.Decrypt(ciphertext, key.Material, md)
	if err != nil {
		return "", fmt.Errorf("decrypting message: %w", err)
	}

	slog.InfoContext(ctx, "message opened",
		"key_id", md.KeyID,
		"security_level", md.SecurityLevel(),
	)
	return plaintext, nil
}

// Send は本文を変換してトランスポートへ渡す。
func (m *Messenger) Send(ctx context.Context, from, to, subject, body string, level domain.SecurityLevel) (*domain.SealedMessage, error) {
	if m.transport == nil {
		return nil, errors.New("transport is not configured")
	}

	sealed, err := m.Seal(ctx, body, level)
	if err != nil {
		return nil, err
	}

	mail := &domain.OutgoingMail{
		From:    from,
		To:      to,
		Subject: subject,
		Body:    sealed.Body,
		Headers: sealed.Headers,
	}
	if err := m.transport.Send(ctx, mail); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return sealed, nil
}

// Fetch はトランスポートからメッセージを取得して平文に戻す。
func (m *Messenger) Fetch(ctx context.Context, folder, id string) (string, error) {
	if m.transport == nil {
		return "", errors.New("transport is not configured")
	}

	mail, err := m.transport.Fetch(ctx, folder, id)
	if err != nil {
		return "", fmt.Errorf("fetching message: %w", err)
	}
	return m.Open(ctx, mail)
}
