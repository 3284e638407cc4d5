package domain

import "fmt"

// SecurityLevel はメッセージ単位で選択する暗号方式を表す。
type SecurityLevel string

const (
	// SecurityLevelOTP はQKD鍵によるワンタイムパッド。
	SecurityLevelOTP SecurityLevel = "L1"
	// SecurityLevelStream はQKD鍵によるAES-256-CFB。
	SecurityLevelStream SecurityLevel = "L2"
	// SecurityLevelHybrid はML-KEMとQKD鍵を組み合わせたハイブリッド方式。
	SecurityLevelHybrid SecurityLevel = "L3"
	// SecurityLevelNone は暗号化なし。
	SecurityLevelNone SecurityLevel = "L4"
)

// SecurityLevels は全レベルを列挙順に返す。
func SecurityLevels() []SecurityLevel {
	return []SecurityLevel{SecurityLevelOTP, SecurityLevelStream, SecurityLevelHybrid, SecurityLevelNone}
}

// ParseSecurityLevel は文字列をSecurityLevelに変換する。
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch level := SecurityLevel(s); level {
	case SecurityLevelOTP, SecurityLevelStream, SecurityLevelHybrid, SecurityLevelNone:
		return level, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSecurityLevel, s)
	}
}

// RequiresKey はレベルがQKD鍵を消費するかどうかを返す。
func (l SecurityLevel) RequiresKey() bool {
	return l != SecurityLevelNone
}

func (l SecurityLevel) String() string {
	return string(l)
}
