package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"mall/internal/domain/model"
	repo "mall/internal/repository"
)

// お知らせをDBに積むだけのNotifier。失敗しても本処理は止めない。
type RepoNotifier struct {
	tx repo.TransactionManager
}

func NewRepoNotifier(tx repo.TransactionManager) *RepoNotifier {
	return &RepoNotifier{tx: tx}
}

func (n *RepoNotifier) Notify(ctx context.Context, userID int64, title, body string, meta map[string]interface{}) {
	metaJSON := ""
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			slog.Warn("marshal notification meta failed", "error", err)
		} else {
			metaJSON = string(raw)
		}
	}

	err := n.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Notifications().Create(ctx, model.Notification{
			UserID:   userID,
			Title:    title,
			Body:     body,
			MetaJSON: metaJSON,
		})
	})
	if err != nil {
		slog.Warn("store notification failed", "user_id", userID, "title", title, "error", err)
	}
}
