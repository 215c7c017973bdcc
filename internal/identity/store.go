// Package identity stores user accounts and the guest usage counter.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/radiglow/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrUserNotFound       = errors.New("identity: user not found")
)

type Store struct {
	db         *gorm.DB
	gate       *db.WriteGate
	bcryptCost int
	// compared on unknown emails so login costs the same either way
	dummyHash []byte
}

func NewStore(gdb *gorm.DB, lockTimeout time.Duration, bcryptCost int) *Store {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("radiglow-no-such-user"), bcryptCost)
	if err != nil {
		panic(fmt.Sprintf("identity: dummy hash: %v", err))
	}
	return &Store{db: gdb, gate: db.NewWriteGate(lockTimeout), bcryptCost: bcryptCost, dummyHash: dummy}
}

// Migrate creates users and guest_usage.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&User{}, &GuestUsage{}); err != nil {
		return fmt.Errorf("migrate identity tables: %w", err)
	}
	return nil
}

// CreateUser registers a new account. A taken email yields ErrEmailTaken
// and leaves the existing account untouched.
func (s *Store) CreateUser(ctx context.Context, email, name, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	err = s.gate.Do(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Model(&User{}).Where("email = ?", email).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrEmailTaken
			}
			return tx.Create(user).Error
		})
	})
	switch {
	case errors.Is(err, ErrEmailTaken), db.IsDuplicateKey(err):
		return nil, ErrEmailTaken
	case err != nil:
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user.Account(), nil
}

// Authenticate checks password against the stored bcrypt hash. Unknown
// email and wrong password both yield ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	u, err := s.userBy(ctx, "email = ?", email)
	if errors.Is(err, ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}
	return u.Account(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id uint64) (*Account, error) {
	u, err := s.userBy(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	return u.Account(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*Account, error) {
	u, err := s.userBy(ctx, "email = ?", email)
	if err != nil {
		return nil, err
	}
	return u.Account(), nil
}

func (s *Store) userBy(ctx context.Context, cond string, arg any) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where(cond, arg).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetGuestUsage returns the count for (ip, date), 0 when there is no row.
func (s *Store) GetGuestUsage(ctx context.Context, ip, date string) (int, error) {
	var row GuestUsage
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND date = ?", ip, date).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get guest usage: %w", err)
	}
	return row.UsageCount, nil
}

// IncrementGuestUsage adds one to (ip, date) and returns the new count.
// The update, the insert of a first row, and the read-back run in one
// transaction, so concurrent callers never lose an increment.
func (s *Store) IncrementGuestUsage(ctx context.Context, ip, date string) (int, error) {
	var count int
	err := s.gate.Do(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&GuestUsage{}).
				Where("ip_address = ? AND date = ?", ip, date).
				Update("usage_count", gorm.Expr("usage_count + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// another process may have inserted since the update; fold into it
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "ip_address"}, {Name: "date"}},
					DoUpdates: clause.Assignments(map[string]any{"usage_count": gorm.Expr("usage_count + 1")}),
				}).Create(&GuestUsage{IPAddress: ip, Date: date, UsageCount: 1}).Error
				if err != nil {
					return err
				}
			}

			var row GuestUsage
			if err := tx.Where("ip_address = ? AND date = ?", ip, date).Take(&row).Error; err != nil {
				return err
			}
			count = row.UsageCount
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("increment guest usage: %w", err)
	}
	return count, nil
}
