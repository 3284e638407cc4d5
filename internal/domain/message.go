package domain

// トランスポートに付与する独自ヘッダ名。
const (
	HeaderEncryption    = "X-Quantum-Encryption"
	HeaderKeyID         = "X-Quantum-Key-ID"
	HeaderSecurityLevel = "X-Quantum-Security-Level"
)

// NoKeyID は鍵を消費しないメッセージ（L4）の鍵ID表記。
const NoKeyID = "NONE"

// SealedMessage は送信可能な状態に変換されたメッセージ本文を表す。
type SealedMessage struct {
	KeyID         string
	SecurityLevel SecurityLevel
	Body          string
	Headers       map[string]string
}

// MessageFlags は受信メッセージのヘッダから読み取った暗号化フラグを表す。
type MessageFlags struct {
	IsEncrypted   bool
	KeyID         string
	SecurityLevel string
}

// OutgoingMail はトランスポートへ渡す送信メッセージを表す。
type OutgoingMail struct {
	From    string
	To      string
	Subject string
	Body    string
	Headers map[string]string
}

// ReceivedMail はトランスポートから取得した受信メッセージを表す。
type ReceivedMail struct {
	ID      string
	From    string
	To      string
	Subject string
	Body    string
	Headers map[string]string
	Flags   MessageFlags
}

// FlagsFromHeaders はヘッダから暗号化フラグを組み立てる。
func FlagsFromHeaders(headers map[string]string) MessageFlags {
	return MessageFlags{
		IsEncrypted:   headers[HeaderEncryption] == "true",
		KeyID:         headers[HeaderKeyID],
		SecurityLevel: headers[HeaderSecurityLevel],
	}
}
