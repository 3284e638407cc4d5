// Package envelope は暗号文とメタデータを区切り付きテキストに変換する。
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"qkd-mail-service/internal/domain"
)

// 区切り行。
const (
	BeginMessage  = "-----BEGIN QUANTUM ENCRYPTED MESSAGE-----"
	EndMessage    = "-----END QUANTUM ENCRYPTED MESSAGE-----"
	BeginMetadata = "-----BEGIN QUANTUM METADATA-----"
	EndMetadata   = "-----END QUANTUM METADATA-----"
)

var (
	messageBlock  = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(BeginMessage) + `\s*(.*?)\s*` + regexp.QuoteMeta(EndMessage))
	metadataBlock = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(BeginMetadata) + `\s*(.*?)\s*` + regexp.QuoteMeta(EndMetadata))
)

// wireMetadata はメタデータのJSON表現。フィールド順がそのまま出力順になる。
type wireMetadata struct {
	KeyID         string `json:"key_id"`
	SecurityLevel string `json:"security_level"`
	SenderSAEID   string `json:"sender_sae_id"`
	ReceiverSAEID string `json:"receiver_sae_id"`
	AlgorithmInfo string `json:"algorithm_info"`
	Nonce         string `json:"nonce,omitempty"`
	KEMCiphertext string `json:"kem_ciphertext,omitempty"`
	KEMSecret     string `json:"kem_secret,omitempty"`
}

// Format は暗号文とメタデータをエンベロープ文字列に変換する。
func Format(ciphertext string, md *domain.EncryptionMetadata) (string, error) {
	if md == nil {
		return "", fmt.Errorf("%w: metadata", domain.ErrMissingMetadataField)
	}
	if err := md.Validate(); err != nil {
		return "", err
	}

	w := wireMetadata{
		KeyID:         md.KeyID,
		SecurityLevel: md.SecurityLevel().String(),
		SenderSAEID:   md.SenderSAEID,
		ReceiverSAEID: md.ReceiverSAEID,
		AlgorithmInfo: md.AlgorithmInfo,
	}
	switch p := md.Params.(type) {
	case domain.StreamParams:
		w.Nonce = encode(p.Nonce)
	case domain.HybridParams:
		w.Nonce = encode(p.Nonce)
		w.KEMCiphertext = encode(p.KEMCiphertext)
		w.KEMSecret = encode(p.KEMSecret)
	}

	metadataJSON, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}

	var b strings.Builder
	b.WriteString(BeginMessage + "\n")
	b.WriteString(ciphertext + "\n")
	b.WriteString(EndMessage + "\n\n")
	b.WriteString(BeginMetadata + "\n")
	b.Write(metadataJSON)
	b.WriteString("\n" + EndMetadata + "\n")
	return b.String(), nil
}

// Parse はエンベロープ文字列から暗号文とメタデータを取り出す。
// 2つのブロックは順不同で探索し、前後の空白は取り除く。
func Parse(text string) (string, *domain.EncryptionMetadata, error) {
	msg := messageBlock.FindStringSubmatch(text)
	if msg == nil {
		return "", nil, fmt.Errorf("%w: encrypted message block not found", domain.ErrEnvelopeFormat)
	}
	meta := metadataBlock.FindStringSubmatch(text)
	if meta == nil {
		return "", nil, fmt.Errorf("%w: metadata block not found", domain.ErrEnvelopeFormat)
	}

	var w wireMetadata
	if err := json.Unmarshal([]byte(strings.TrimSpace(meta[1])), &w); err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrMetadataDecode, err)
	}

	md, err := w.toDomain()
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(msg[1]), md, nil
}

func (w *wireMetadata) toDomain() (*domain.EncryptionMetadata, error) {
	if w.KeyID == "" {
		return nil, fmt.Errorf("%w: key_id is required", domain.ErrMetadataDecode)
	}
	level, err := domain.ParseSecurityLevel(w.SecurityLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataDecode, err)
	}

	var params domain.LevelParams
	switch level {
	case domain.SecurityLevelOTP:
		params = domain.OTPParams{}
	case domain.SecurityLevelStream:
		nonce, err := decode("nonce", w.Nonce)
		if err != nil {
			return nil, err
		}
		params = domain.StreamParams{Nonce: nonce}
	case domain.SecurityLevelHybrid:
		var p domain.HybridParams
		if p.Nonce, err = decode("nonce", w.Nonce); err != nil {
			return nil, err
		}
		if p.KEMCiphertext, err = decode("kem_ciphertext", w.KEMCiphertext); err != nil {
			return nil, err
		}
		if p.KEMSecret, err = decode("kem_secret", w.KEMSecret); err != nil {
			return nil, err
		}
		params = p
	case domain.SecurityLevelNone:
		params = domain.PassthroughParams{}
	}

	md, err := domain.NewEncryptionMetadata(w.KeyID, w.SenderSAEID, w.ReceiverSAEID, w.AlgorithmInfo, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataDecode, err)
	}
	return md, nil
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(field, s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s is required for this security level", domain.ErrMetadataDecode, field)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMetadataDecode, field, err)
	}
	return b, nil
}
