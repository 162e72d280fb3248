package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:accounts_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate account schema: %v", err)
	}
	return db
}

func TestResolveUsernameIsCaseInsensitiveAndCached(t *testing.T) {
	db := openTestDatabase(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	created, err := service.Create(context.Background(), "Mapper", PermissionNominateCharts)
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	accountID, err := service.ResolveUsername(context.Background(), "  mapper ")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if accountID != created.ID {
		t.Fatalf("expected id %d, got %d", created.ID, accountID)
	}

	if err := db.Where("id = ?", created.ID).Delete(&Account{}).Error; err != nil {
		t.Fatalf("failed to delete account: %v", err)
	}
	// cached mapping survives the row removal.
	accountID, err = service.ResolveUsername(context.Background(), "MAPPER")
	if err != nil || accountID != created.ID {
		t.Fatalf("expected cached id %d, got %d (%v)", created.ID, accountID, err)
	}
}

func TestResolveUsernameReportsUnknownAccounts(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: openTestDatabase(t)})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	for _, username := range []string{"", "ghost"} {
		if _, err := service.ResolveUsername(context.Background(), username); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("expected ErrAccountNotFound for %q, got %v", username, err)
		}
	}
	if _, err := service.FindByID(context.Background(), 42); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountHasPermission(t *testing.T) {
	account := Account{Permissions: PermissionNominateCharts | PermissionDisqualifyCharts}
	testCases := []struct {
		name       string
		permission Permission
		expected   bool
	}{
		{name: "nominate", permission: PermissionNominateCharts, expected: true},
		{name: "disqualify", permission: PermissionDisqualifyCharts, expected: true},
		{name: "moderate", permission: PermissionModerateCharts, expected: false},
		{name: "combined", permission: PermissionNominateCharts | PermissionModerateCharts, expected: false},
		{name: "zero", permission: 0, expected: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := account.Has(testCase.permission); got != testCase.expected {
				t.Fatalf("Has(%d) = %v, want %v", testCase.permission, got, testCase.expected)
			}
		})
	}
	if PermissionDisqualifyCharts != 1<<10 || PermissionNominateCharts != 1<<9 {
		t.Fatalf("unexpected permission bit layout")
	}
}
