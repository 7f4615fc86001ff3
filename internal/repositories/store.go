package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Store agrupa os repositórios sobre a mesma conexão (ou transação).
type Store struct {
	db    *gorm.DB
	retry RetryPolicy

	Sessions     *SessionRepository
	Contacts     *ContactRepository
	Messages     *MessageRepository
	QuickReplies *QuickReplyRepository
	Settings     *SettingsRepository
}

func NewStore(db *gorm.DB, retry RetryPolicy) *Store {
	s := &Store{db: db, retry: retry}
	s.Sessions = &SessionRepository{db: db, retry: retry}
	s.Contacts = &ContactRepository{db: db, retry: retry}
	s.Messages = &MessageRepository{db: db, retry: retry}
	s.QuickReplies = &QuickReplyRepository{db: db, retry: retry}
	s.Settings = &SettingsRepository{db: db, retry: retry}
	return s
}

// InTx executa fn numa transação. Em erro transitório a transação inteira é repetida.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.retry.Do(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(NewStore(tx, noRetry))
		})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
