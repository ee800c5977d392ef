package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned when a decrement would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("already exists")
)

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

type StockLevel struct {
	WarehouseID string    `json:"warehouse_id"`
	ProductID   string    `json:"product_id"`
	Quantity    int64     `json:"quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Employee struct {
	ID           string
	Username     string
	Name         string
	PasswordHash string
	Role         string
	Permissions  []string // JSON array stored as text
	CreatedAt    time.Time
}

type Sale struct {
	ID            string
	TabID         string
	EmployeeID    string
	CustomerID    string
	WarehouseID   string
	PaymentMethod string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	CreatedAt     time.Time
	Lines         []SaleLine
}

type SaleLine struct {
	ProductID  string
	LotID      string
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

type Order struct {
	ID          string
	TabID       string
	EmployeeID  string
	CustomerID  string
	WarehouseID string
	LocationID  string
	Status      string // "draft", "placed", "partial", "failed"
	Total       decimal.Decimal
	Notes       string
	CreatedAt   time.Time
	Lines       []OrderLine
}

type OrderLine struct {
	ID         string
	OrderID    string
	ProductID  string
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
