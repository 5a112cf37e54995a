package model

import "time"

// 注文イベントのお知らせ。配送自体は外部の仕事で、ここでは記録だけ持つ。
type Notification struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Body      string    `gorm:"type:text" json:"body"`
	MetaJSON  string    `gorm:"type:text" json:"meta_json"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}
