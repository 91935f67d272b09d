package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleType is the single payment channel of a whole sale. A sale is either
// all cash or all digital; debts and payments use CashSplit-style dual
// fields instead.
type SaleType string

const (
	SaleTypeCash    SaleType = "cash"
	SaleTypeDigital SaleType = "digital"
)

func (t SaleType) Valid() bool {
	return t == SaleTypeCash || t == SaleTypeDigital
}

const DefaultSellStatus = "pending"

type DebtStatus string

const (
	DebtStatusTaken             DebtStatus = "taken"
	DebtStatusPartiallyReturned DebtStatus = "partially_returned"
	DebtStatusReturned          DebtStatus = "returned"
)

// Account is a money pool: Balance holds digital funds, CashBalance holds
// physical cash.
type Account struct {
	ID          string          `json:"id"`
	Account     string          `json:"account"`
	Balance     decimal.Decimal `json:"balance"`
	CashBalance decimal.Decimal `json:"cashBalance"`
	Default     bool            `json:"default"`
}

type Product struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stockQuantity"`
}

type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Color     string `json:"color"`
}

type SKU struct {
	ID            string `json:"id"`
	SKU           string `json:"sku"`
	Size          string `json:"size"`
	StockQuantity int    `json:"stockQuantity"`
	VariantID     string `json:"variantId"`
	ProductID     string `json:"productId"`
}

type SellItem struct {
	ID        string          `json:"id"`
	SellID    string          `json:"sellId"`
	ProductID string          `json:"productId"`
	SKUID     string          `json:"skuId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal is price multiplied by quantity.
func (i SellItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Sell struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	AccountID string          `json:"accountId"`
	Total     decimal.Decimal `json:"total"`
	Type      SaleType        `json:"type"`
	Status    string          `json:"status"`
	Discount  decimal.Decimal `json:"discount"`
	Items     []SellItem      `json:"items"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ItemsTotal sums price*quantity over every line item.
func ItemsTotal(items []SellItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

type Debt struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"accountId"`
	UserID          string          `json:"userId,omitempty"`
	TakerName       string          `json:"takerName"`
	Details         string          `json:"details"`
	CashAmount      decimal.Decimal `json:"cashAmount"`
	DigitalAmount   decimal.Decimal `json:"digitalAmount"`
	AmountTaken     decimal.Decimal `json:"amountTaken"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	Status          DebtStatus      `json:"status"`
	Payments        []DebtPayment   `json:"payments,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type DebtPayment struct {
	ID            string          `json:"id"`
	DebtID        string          `json:"debtId"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	CashAmount    decimal.Decimal `json:"cashAmount"`
	DigitalAmount decimal.Decimal `json:"digitalAmount"`
	PaymentDate   time.Time       `json:"paymentDate"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
	RoleViewer   = "viewer"
)

type SaleItemRequest struct {
	SKUID     string          `json:"skuId"`
	ProductID string          `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type CreateSaleRequest struct {
	Items     []SaleItemRequest `json:"items"`
	AccountID string            `json:"accountId"`
	Type      SaleType          `json:"type"`
	Status    string            `json:"status,omitempty"`
}

type UpdateSaleRequest struct {
	Items     []SaleItemRequest `json:"items"`
	AccountID string            `json:"accountId"`
	Type      SaleType          `json:"type"`
	Status    string            `json:"status,omitempty"`
}

type CreateDebtRequest struct {
	AccountID     string          `json:"accountId"`
	CashAmount    decimal.Decimal `json:"cashAmount"`
	DigitalAmount decimal.Decimal `json:"digitalAmount"`
	Details       string          `json:"details"`
	TakerName     string          `json:"takerName"`
	UserID        string          `json:"userId,omitempty"`
}

type UpdateDebtRequest struct {
	CashAmount    decimal.Decimal `json:"cashAmount"`
	DigitalAmount decimal.Decimal `json:"digitalAmount"`
	Details       string          `json:"details"`
	TakerName     string          `json:"takerName"`
	UserID        string          `json:"userId,omitempty"`
}

type PaymentRequest struct {
	CashAmount    decimal.Decimal `json:"cashAmount"`
	DigitalAmount decimal.Decimal `json:"digitalAmount"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
