package ledger

import (
	"errors"
	"fmt"

	"github.com/devmatch/devmatch-server/cmd/models"
	"gorm.io/gorm"
)

// Service owns token balances and the append-only transaction log.
// Every mutation is one transaction: guard-update the cached balance,
// read it back, append the ledger entry. The guarded UPDATE serializes
// concurrent writers per user; writers for different users never
// contend.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Credit adds tokens to a user's balance and appends a transaction.
func (s *Service) Credit(userID uint, amount int64, kind, description, reference string, packageID, sessionID *uint) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: credit amount must be positive", models.ErrValidation)
	}
	switch kind {
	case models.TxPurchase, models.TxRefund, models.TxBonus, models.TxAdjustment:
	default:
		return nil, fmt.Errorf("%w: invalid credit kind %q", models.ErrValidation, kind)
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	if err := ensureBalance(tx, userID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(&models.TokenBalance{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	entry, err := appendEntry(tx, userID, kind, amount, description, reference, packageID, sessionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return entry, nil
}

// Debit removes tokens from a user's balance. The balance guard and
// the decrement are a single conditional UPDATE, so a debit that would
// push the balance negative rejects without mutating anything.
func (s *Service) Debit(userID uint, amount int64, description string, sessionID *uint) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit amount must be positive", models.ErrValidation)
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	if err := ensureBalance(tx, userID); err != nil {
		tx.Rollback()
		return nil, err
	}

	result := tx.Model(&models.TokenBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, models.ErrInsufficientBalance
	}

	entry, err := appendEntry(tx, userID, models.TxDeduction, -amount, description, "", nil, sessionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return entry, nil
}

// RefundSession credits back what a session charged. The balance
// increment happens before the duplicate check inside one
// transaction, so two concurrent refunds of the same session
// serialize on the balance row and the loser sees the winner's entry
// and backs out. A session that charged nothing has nothing to
// refund.
func (s *Service) RefundSession(sessionID uint, description string) (*models.TokenTransaction, error) {
	var session models.Session
	if err := s.db.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %d", models.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if session.ChargedTokens <= 0 {
		return nil, models.ErrNothingToRefund
	}

	if description == "" {
		description = fmt.Sprintf("Refund for session %d", sessionID)
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	if err := ensureBalance(tx, session.RequesterID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(&models.TokenBalance{}).
		Where("user_id = ?", session.RequesterID).
		Update("balance", gorm.Expr("balance + ?", session.ChargedTokens)).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	var refunded int64
	if err := tx.Model(&models.TokenTransaction{}).
		Where("session_id = ? AND kind = ?", sessionID, models.TxRefund).
		Count(&refunded).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if refunded > 0 {
		tx.Rollback()
		return nil, models.ErrNothingToRefund
	}

	entry, err := appendEntry(tx, session.RequesterID, models.TxRefund, session.ChargedTokens, description, "", nil, &session.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return entry, nil
}

// Balance returns the cached balance, zero for users with no wallet
// row yet.
func (s *Service) Balance(userID uint) (int64, error) {
	var bal models.TokenBalance
	err := s.db.Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return bal.Balance, nil
}

// Verify replays a user's transactions in creation order and checks
// that the running sum reproduces every stored balance_after and ends
// at the cached balance.
func (s *Service) Verify(userID uint) error {
	var entries []models.TokenTransaction
	if err := s.db.Where("user_id = ?", userID).Order("id asc").Find(&entries).Error; err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	var running int64
	for _, entry := range entries {
		running += entry.Amount
		if running != entry.BalanceAfter {
			return fmt.Errorf("ledger replay mismatch for user %d at transaction %d: replayed %d, stored %d",
				userID, entry.ID, running, entry.BalanceAfter)
		}
	}

	cached, err := s.Balance(userID)
	if err != nil {
		return err
	}
	if running != cached {
		return fmt.Errorf("ledger replay mismatch for user %d: replayed %d, cached balance %d", userID, running, cached)
	}
	return nil
}

func ensureBalance(tx *gorm.DB, userID uint) error {
	var bal models.TokenBalance
	if err := tx.Where(models.TokenBalance{UserID: userID}).FirstOrCreate(&bal).Error; err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return nil
}

func appendEntry(tx *gorm.DB, userID uint, kind string, amount int64, description, reference string, packageID, sessionID *uint) (*models.TokenTransaction, error) {
	var bal models.TokenBalance
	if err := tx.Where("user_id = ?", userID).First(&bal).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	entry := models.TokenTransaction{
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: bal.Balance,
		Description:  description,
		Reference:    reference,
		PackageID:    packageID,
		SessionID:    sessionID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return &entry, nil
}
