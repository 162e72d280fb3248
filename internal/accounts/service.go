package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ErrAccountNotFound indicates no account matches the requested username or id.
var ErrAccountNotFound = errors.New("accounts: account not found")

// ServiceConfig describes the dependencies required for account lookups.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves usernames to account ids and loads accounts for permission checks.
type Service struct {
	db    *gorm.DB
	cache sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// ResolveUsername returns the id of the account owning username. Lookups are
// case-insensitive and cached for the lifetime of the service.
func (s *Service) ResolveUsername(ctx context.Context, username string) (int64, error) {
	normalized := normalizeUsername(username)
	if normalized == "" {
		return 0, ErrAccountNotFound
	}
	if cached, ok := s.cache.Load(normalized); ok {
		if accountID, ok := cached.(int64); ok {
			return accountID, nil
		}
	}

	var account Account
	err := s.db.WithContext(ctx).
		Select("id").
		Where("LOWER(username) = ?", normalized).
		Take(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	s.cache.Store(normalized, account.ID)
	return account.ID, nil
}

// FindByID loads the account with the given id.
func (s *Service) FindByID(ctx context.Context, accountID int64) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Create inserts a new account. It is used by tooling and tests; account
// management itself lives outside this service.
func (s *Service) Create(ctx context.Context, username string, permissions Permission) (Account, error) {
	account := Account{Username: username, Permissions: permissions}
	if normalizeUsername(username) == "" {
		return Account{}, fmt.Errorf("accounts: username required")
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}
