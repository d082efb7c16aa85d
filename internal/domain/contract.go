package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ContractStatusAccepted  = "accepted"
	ContractStatusActive    = "active"
	ContractStatusCompleted = "completed"
	ContractStatusCancelled = "cancelled"
)

// Contract is the read model returned by the contract service.
type Contract struct {
	ContractID  string
	ManagerID   string
	TalentID    string
	TotalAmount decimal.Decimal
	Currency    string
	Title       string
	Status      string
	JobCategory string
}

// UserProfile carries the user attributes commission conditions depend on.
type UserProfile struct {
	UserID           string
	Email            string
	Name             string
	Rating           float64
	AccountCreatedAt time.Time
	Premium          bool
}

func (p UserProfile) AccountAgeDays(now time.Time) int {
	if p.AccountCreatedAt.IsZero() || now.Before(p.AccountCreatedAt) {
		return 0
	}
	return int(now.Sub(p.AccountCreatedAt).Hours() / 24)
}
