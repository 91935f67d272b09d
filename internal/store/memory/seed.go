package memory

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
)

// NewSeeded returns a store with demo accounts, a small catalog and one
// user per role. It backs the server when no DATABASE_URL is configured.
func NewSeeded() *Store {
	return New(Seed{
		Accounts: []domain.Account{
			{ID: "acc_main", Account: "KES", Balance: decimal.NewFromInt(500), CashBalance: decimal.NewFromInt(200), Default: true},
			{ID: "acc_branch", Account: "KES", Balance: decimal.Zero, CashBalance: decimal.Zero},
		},
		Products: []domain.Product{
			{ID: "prod_tee", Name: "Basic Tee"},
			{ID: "prod_sneaker", Name: "Canvas Sneaker"},
		},
		Variants: []domain.Variant{
			{ID: "var_tee_black", ProductID: "prod_tee", Color: "black"},
			{ID: "var_tee_white", ProductID: "prod_tee", Color: "white"},
			{ID: "var_sneaker_red", ProductID: "prod_sneaker", Color: "red"},
		},
		SKUs: []domain.SKU{
			{ID: "sku_tee_black_m", SKU: "TEE-BLK-M", Size: "M", StockQuantity: 12, VariantID: "var_tee_black"},
			{ID: "sku_tee_black_l", SKU: "TEE-BLK-L", Size: "L", StockQuantity: 8, VariantID: "var_tee_black"},
			{ID: "sku_tee_white_m", SKU: "TEE-WHT-M", Size: "M", StockQuantity: 10, VariantID: "var_tee_white"},
			{ID: "sku_sneaker_red_42", SKU: "SNK-RED-42", Size: "42", StockQuantity: 4, VariantID: "var_sneaker_red"},
		},
		Users: seedUsers(),
	})
}

// seedUsers reads SEED_*_PASSWORD overrides and falls back to dev defaults
// with a warning. Production runs against PostgreSQL and never sees these.
func seedUsers() []domain.UserAccount {
	defaults := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"employee", "SEED_EMPLOYEE_PASSWORD", "employee123", domain.RoleEmployee},
		{"viewer", "SEED_VIEWER_PASSWORD", "viewer123", domain.RoleViewer},
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, len(defaults))
	usedFallback := false
	for _, u := range defaults {
		pwd := os.Getenv(u.envKey)
		if pwd == "" {
			pwd = u.fallback
			usedFallback = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).WithField("username", u.username).Fatal("failed to hash seed password")
		}
		users = append(users, domain.UserAccount{
			ID:        "usr_" + u.username,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	if usedFallback {
		logrus.WithField("component", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_EMPLOYEE_PASSWORD and SEED_VIEWER_PASSWORD to override")
	}
	return users
}
