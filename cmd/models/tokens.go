package models

import (
	"gorm.io/gorm"
)

const (
	TxPurchase   = "purchase"
	TxDeduction  = "deduction"
	TxRefund     = "refund"
	TxBonus      = "bonus"
	TxAdjustment = "adjustment"
)

// TokenBalance caches a user's current token balance. The transaction
// log is the source of truth; the cached balance is a projection that
// the ledger keeps consistent on every mutation.
type TokenBalance struct {
	gorm.Model
	UserID  uint  `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Balance int64 `gorm:"column:balance;not null;default:0" json:"balance"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (TokenBalance) TableName() string {
	return "token_balances"
}

// TokenTransaction is one append-only ledger entry. Amount is signed;
// BalanceAfter is the balance immediately after this entry applied.
type TokenTransaction struct {
	gorm.Model
	UserID       uint   `gorm:"column:user_id;not null;index" json:"user_id"`
	Kind         string `gorm:"column:kind;size:50;not null" json:"kind"`
	Amount       int64  `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter int64  `gorm:"column:balance_after;not null" json:"balance_after"`
	Description  string `gorm:"column:description;type:text;not null" json:"description"`
	Reference    string `gorm:"column:reference;size:255" json:"reference,omitempty"`
	PackageID    *uint  `gorm:"column:package_id" json:"package_id,omitempty"`
	SessionID    *uint  `gorm:"column:session_id" json:"session_id,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (TokenTransaction) TableName() string {
	return "token_transactions"
}

// TokenPackage is a purchasable bundle of tokens.
type TokenPackage struct {
	gorm.Model
	Name       string `gorm:"column:name;size:255;not null" json:"name"`
	Tokens     int64  `gorm:"column:tokens;not null" json:"tokens"`
	PriceCents int64  `gorm:"column:price_cents;not null" json:"price_cents"`
	Active     bool   `gorm:"column:active;default:true" json:"active"`
}

func (TokenPackage) TableName() string {
	return "token_packages"
}
