package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/suPer8Hu/radiglow/internal/common"
	"github.com/suPer8Hu/radiglow/internal/db"
	"github.com/suPer8Hu/radiglow/internal/vault"
	"gorm.io/gorm"
)

// ErrSessionNotFound covers both absent sessions and sessions owned by
// someone else; callers must not be able to tell the two apart.
var ErrSessionNotFound = errors.New("chat: session not found")

// Store persists sessions and their encrypted messages.
type Store struct {
	db   *gorm.DB
	gate *db.WriteGate
	now  func() time.Time
}

func NewStore(gdb *gorm.DB, lockTimeout time.Duration) *Store {
	return &Store{db: gdb, gate: db.NewWriteGate(lockTimeout), now: time.Now}
}

// Migrate creates chat_sessions and chat_messages.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&Session{}, &Message{}); err != nil {
		return fmt.Errorf("migrate chat tables: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, userID uint64, title string) (string, error) {
	id, err := common.NewOpaqueID()
	if err != nil {
		return "", err
	}
	now := s.clock()
	sess := &Session{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}

	err = s.gate.Do(ctx, func() error {
		return s.db.WithContext(ctx).Create(sess).Error
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// GetSession returns the session if userID owns it.
func (s *Store) GetSession(ctx context.Context, sessionID string, userID uint64) (*SessionSummary, error) {
	var sess Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	sum := sess.Summary()
	return &sum, nil
}

// AppendMessage encrypts plaintext under key, stores it and moves the
// session's updated_at to the message timestamp in one transaction.
// The session must be owned by userID.
func (s *Store) AppendMessage(ctx context.Context, sessionID, plaintext string, sender Sender, userID uint64, key vault.Key) (string, error) {
	if !sender.Valid() {
		return "", fmt.Errorf("chat: unknown sender %q", sender)
	}
	token, err := vault.Seal(plaintext, key)
	if err != nil {
		return "", err
	}
	id, err := common.NewOpaqueID()
	if err != nil {
		return "", err
	}

	err = s.gate.Do(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var sess Session
			err := tx.Select("id", "user_id", "updated_at").Where("id = ?", sessionID).Take(&sess).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			if err != nil {
				return err
			}
			if sess.UserID != userID {
				return ErrSessionNotFound
			}

			ts := nextTimestamp(s.clock(), sess.UpdatedAt)
			msg := &Message{
				ID:               id,
				ChatID:           sessionID,
				EncryptedContent: token,
				Sender:           sender,
				CreatedAt:        ts,
			}
			if err := tx.Create(msg).Error; err != nil {
				return err
			}
			return tx.Model(&Session{}).Where("id = ?", sessionID).Update("updated_at", ts).Error
		})
	})
	if errors.Is(err, ErrSessionNotFound) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

// GetHistory returns the session's messages oldest first, decrypted with
// key. Messages that do not open under key come back as vault.Placeholder.
// An unknown session yields an empty history.
func (s *Store) GetHistory(ctx context.Context, sessionID string, key vault.Key) ([]HistoryEntry, error) {
	var msgs []Message
	if err := s.db.WithContext(ctx).
		Where("chat_id = ?", sessionID).
		Order("created_at ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{
			Content:   vault.OpenOrPlaceholder(m.EncryptedContent, key),
			Sender:    m.Sender,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// ListSessions returns userID's sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, userID uint64) ([]SessionSummary, error) {
	var rows []Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	slices.SortStableFunc(rows, func(a, b Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	out := make([]SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Summary())
	}
	return out, nil
}

// DeleteSession removes the session and its messages if userID owns it.
// It reports false, without error, when the session is absent or not owned.
func (s *Store) DeleteSession(ctx context.Context, sessionID string, userID uint64) (bool, error) {
	deleted := false
	err := s.gate.Do(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var sess Session
			err := tx.Select("id", "user_id").Where("id = ?", sessionID).Take(&sess).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if sess.UserID != userID {
				return nil
			}

			if err := tx.Where("chat_id = ?", sessionID).Delete(&Message{}).Error; err != nil {
				return err
			}
			res := tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
			if res.Error != nil {
				return res.Error
			}
			deleted = res.RowsAffected == 1
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return deleted, nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// nextTimestamp keeps message times strictly increasing within a session
// even when the wall clock stalls or steps back.
func nextTimestamp(now, last time.Time) time.Time {
	if now.After(last) {
		return now
	}
	return last.UTC().Add(time.Microsecond)
}
