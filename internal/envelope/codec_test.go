package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qkd-mail-service/internal/domain"
)

func mustMetadata(t *testing.T, params domain.LevelParams, algorithm string) *domain.EncryptionMetadata {
	t.Helper()
	md, err := domain.NewEncryptionMetadata("6f1c2d2e-0000-4000-8000-000000000001", "SENDER_SAE", "RECEIVER_SAE", algorithm, params)
	require.NoError(t, err)
	return md
}

func TestFormat_ExactLayout(t *testing.T) {
	md := mustMetadata(t, domain.StreamParams{Nonce: []byte{0, 1, 2, 3}}, "AES-256-CFB")

	got, err := Format("Y2lwaGVydGV4dA==", md)
	require.NoError(t, err)

	want := `-----BEGIN QUANTUM ENCRYPTED MESSAGE-----
Y2lwaGVydGV4dA==
-----END QUANTUM ENCRYPTED MESSAGE-----

-----BEGIN QUANTUM METADATA-----
{
  "key_id": "6f1c2d2e-0000-4000-8000-000000000001",
  "security_level": "L2",
  "sender_sae_id": "SENDER_SAE",
  "receiver_sae_id": "RECEIVER_SAE",
  "algorithm_info": "AES-256-CFB",
  "nonce": "AAECAw=="
}
-----END QUANTUM METADATA-----
`
	assert.Equal(t, want, got)
}

func TestFormatParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		ciphertext string
		md         *domain.EncryptionMetadata
	}{
		{"L1", "AbCd+/==", mustMetadata(t, domain.OTPParams{}, "OTP")},
		{"L1 empty ciphertext", "", mustMetadata(t, domain.OTPParams{}, "OTP")},
		{"L2", "c29tZQ==", mustMetadata(t, domain.StreamParams{Nonce: []byte("0123456789abcdef")}, "AES-256-CFB")},
		{"L3", "c29tZQ==", mustMetadata(t, domain.HybridParams{
			Nonce:         []byte("0123456789abcdef"),
			KEMCiphertext: []byte{9, 8, 7, 6},
			KEMSecret:     []byte{5, 4, 3, 2, 1},
		}, "Hybrid-PQC+QKD")},
		{"L4 multi-line", "line one\nline two", mustMetadata(t, domain.PassthroughParams{}, "None")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := Format(tt.ciphertext, tt.md)
			require.NoError(t, err)

			ct, md, err := Parse(text)
			require.NoError(t, err)
			assert.Equal(t, tt.ciphertext, ct)
			assert.Equal(t, tt.md, md)
		})
	}
}

func TestParse_OrderTolerantAndSurroundingText(t *testing.T) {
	md := mustMetadata(t, domain.OTPParams{}, "OTP")
	text, err := Format("QUJD", md)
	require.NoError(t, err)

	parts := strings.SplitN(text, "\n\n", 2)
	swapped := "Forwarded message:\n\n" + parts[1] + "\n   \n" + parts[0] + "\n-- \nsignature"

	ct, got, err := Parse(swapped)
	require.NoError(t, err)
	assert.Equal(t, "QUJD", ct)
	assert.Equal(t, md, got)
}

func TestParse_MissingDelimiters(t *testing.T) {
	md := mustMetadata(t, domain.OTPParams{}, "OTP")
	text, err := Format("QUJD", md)
	require.NoError(t, err)

	tests := map[string]string{
		"no message end":   strings.Replace(text, EndMessage, "", 1),
		"no message begin": strings.Replace(text, BeginMessage, "", 1),
		"no metadata end":  strings.Replace(text, EndMetadata, "", 1),
		"plain text":       "hello there",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Parse(input)
			assert.ErrorIs(t, err, domain.ErrEnvelopeFormat)
		})
	}
}

func TestParse_MetadataDecodeErrors(t *testing.T) {
	wrap := func(metadata string) string {
		return BeginMessage + "\nQUJD\n" + EndMessage + "\n\n" + BeginMetadata + "\n" + metadata + "\n" + EndMetadata + "\n"
	}

	tests := map[string]string{
		"not json":         "{not json",
		"unknown level":    `{"key_id":"k","security_level":"L7","sender_sae_id":"s","receiver_sae_id":"r","algorithm_info":"x"}`,
		"L2 without nonce": `{"key_id":"k","security_level":"L2","sender_sae_id":"s","receiver_sae_id":"r","algorithm_info":"x"}`,
		"L3 without secret": `{"key_id":"k","security_level":"L3","sender_sae_id":"s","receiver_sae_id":"r","algorithm_info":"x",` +
			`"nonce":"QUJD","kem_ciphertext":"QUJD"}`,
		"bad base64 nonce": `{"key_id":"k","security_level":"L2","sender_sae_id":"s","receiver_sae_id":"r","algorithm_info":"x","nonce":"!!"}`,
		"missing key id":   `{"security_level":"L1","sender_sae_id":"s","receiver_sae_id":"r","algorithm_info":"x"}`,
	}
	for name, metadata := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Parse(wrap(metadata))
			assert.ErrorIs(t, err, domain.ErrMetadataDecode)
		})
	}
}

func TestFormat_RejectsIncompleteMetadata(t *testing.T) {
	md := &domain.EncryptionMetadata{KeyID: "k", Params: domain.StreamParams{}}
	_, err := Format("QUJD", md)
	assert.ErrorIs(t, err, domain.ErrMissingMetadataField)
}
