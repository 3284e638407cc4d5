// Package transport はメッセージの送受信経路を提供する。
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"qkd-mail-service/internal/domain"
)

// 既定のフォルダ名。
const (
	FolderInbox = "INBOX"
	FolderSent  = "Sent"
)

// Mailbox はプロセス内で完結するメールボックス。
// 送信したメッセージは送信済みフォルダと受信箱の両方に同じIDで保存される。
type Mailbox struct {
	mu      sync.RWMutex
	folders map[string]map[string]*storedMail
	now     func() time.Time
}

type storedMail struct {
	mail       domain.ReceivedMail
	receivedAt time.Time
}

// NewMailbox は空のMailboxを生成する。
func NewMailbox() *Mailbox {
	return &Mailbox{
		folders: make(map[string]map[string]*storedMail),
		now:     time.Now,
	}
}

// Send はメッセージを保存する。本文とヘッダはそのまま保持する。
func (m *Mailbox) Send(ctx context.Context, mail *domain.OutgoingMail) error {
	if mail == nil || mail.To == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrInvalidRequest)
	}

	id := uuid.NewString()
	headers := maps.Clone(mail.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	received := domain.ReceivedMail{
		ID:      id,
		From:    mail.From,
		To:      mail.To,
		Subject: mail.Subject,
		Body:    mail.Body,
		Headers: headers,
		Flags:   domain.FlagsFromHeaders(headers),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	for _, folder := range []string{FolderSent, FolderInbox} {
		if m.folders[folder] == nil {
			m.folders[folder] = make(map[string]*storedMail)
		}
		m.folders[folder][id] = &storedMail{mail: received, receivedAt: at}
	}

	slog.DebugContext(ctx, "message delivered",
		"message_id", id,
		"to", mail.To,
		"encrypted", received.Flags.IsEncrypted,
	)
	return nil
}

// Fetch はフォルダ内のメッセージのコピーを返す。
func (m *Mailbox) Fetch(ctx context.Context, folder, id string) (*domain.ReceivedMail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sm, ok := m.folders[folder][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrMessageNotFound, folder, id)
	}
	mail := sm.mail
	mail.Headers = maps.Clone(sm.mail.Headers)
	return &mail, nil
}

// List はフォルダ内のメッセージIDを受信順に返す。
func (m *Mailbox) List(ctx context.Context, folder string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.folders[folder]
	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := stored[ids[i]], stored[ids[j]]
		if a.receivedAt.Equal(b.receivedAt) {
			return ids[i] < ids[j]
		}
		return a.receivedAt.Before(b.receivedAt)
	})
	return ids
}
