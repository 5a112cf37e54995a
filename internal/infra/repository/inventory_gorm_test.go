package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// 実DBに対するテスト。TEST_DATABASE_DSNが無い環境ではスキップする。
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open failed: %v", err)
	}
	if err := db.AutoMigrate(&model.Product{}, &model.ProductVariant{}, &model.InventoryLog{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

// 同じ在庫行を並行で奪い合っても売り越さないこと。
// 直列化はFOR UPDATEの行ロック頼みなので、フェイクではなく実DBで確かめる。
func TestLockStock_ConcurrentCallersNeverOversell(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	const (
		initialStock = 10
		lockQty      = 3
		workers      = 16
	)

	p := model.Product{
		Name:     "conc-lock-" + time.Now().Format("20060102-150405.000000000"),
		Price:    decimal.RequireFromString("19.90"),
		Stock:    initialStock,
		IsActive: true,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	txm := NewTxManagerGorm(db)
	ref := model.ItemRef{ProductID: p.ID}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = txm.WithinTx(ctx, func(r repo.TxRepos) error {
				return r.Inventory().LockStock(ctx, ref, lockQty, "order create", 1, nil)
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		// 失敗は全て在庫不足でなければならない
		var ise *repo.InsufficientStockError
		assert.ErrorAs(t, err, &ise)
	}

	// 10個をqty=3で取り合うと通るのは3本だけ
	assert.Equal(t, initialStock/lockQty, succeeded)

	var got model.Product
	assert.NoError(t, db.First(&got, p.ID).Error)
	assert.Equal(t, int64(initialStock-int64(succeeded)*lockQty), got.Stock)
	assert.GreaterOrEqual(t, got.Stock, int64(0))

	// 成功した分だけロックの監査ログが残る
	var logCount int64
	assert.NoError(t, db.Model(&model.InventoryLog{}).
		Where("product_id = ? AND change_type = ?", p.ID, model.StockChangeLock).
		Count(&logCount).Error)
	assert.Equal(t, int64(succeeded), logCount)
}
