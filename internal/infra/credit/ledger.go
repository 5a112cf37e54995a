package credit

import (
	"context"
	"fmt"

	"mall/internal/domain/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 内部クレジット台帳。usecase.CreditLedgerを実装する。
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// 購入の巻き戻し。残高を戻して履歴を追記する。
// 呼び出し元のトランザクションの中で呼ばれる前提は置かず、ここで閉じる。
func (l *GormLedger) ReversePurchase(ctx context.Context, userID int64, orderID int64, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w model.Wallet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&w).Error
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("wallet not found for user %d", userID)
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&model.Wallet{}).
			Where("id = ?", w.ID).
			Update("balance", w.Balance.Add(amount)).Error; err != nil {
			return err
		}

		return tx.Create(&model.WalletTransaction{
			WalletID: w.ID,
			OrderID:  &orderID,
			Kind:     model.WalletTxReverse,
			Amount:   amount,
			Note:     fmt.Sprintf("reverse purchase for order %d", orderID),
		}).Error
	})
}
