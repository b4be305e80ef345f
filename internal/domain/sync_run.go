package domain

import "time"

// SyncStatus 同步运行状态
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "RUNNING"
	SyncStatusCompleted SyncStatus = "COMPLETED"
	SyncStatusFailed    SyncStatus = "FAILED"
)

// Terminal 判断是否为终态（终态不可再迁移）
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// SyncRun 记录一次邮件同步的执行情况。
//
// 记录在任何邮箱操作之前以 RUNNING 状态创建，结束时恰好更新一次为
// COMPLETED 或 FAILED。CompletedAt 仅在终态下非空。
type SyncRun struct {
	ID                string     `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	StartedAt         time.Time  `json:"startedAt" gorm:"index;not null" db:"started_at"`
	CompletedAt       *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	Status            SyncStatus `json:"status" gorm:"type:varchar(20);index;not null" db:"status"`
	MessagesProcessed int        `json:"messagesProcessed" gorm:"not null;default:0" db:"messages_processed"`
	TicketsCreated    int        `json:"ticketsCreated" gorm:"not null;default:0" db:"tickets_created"`
	ErrorMessage      *string    `json:"errorMessage,omitempty" gorm:"type:text" db:"error_message"`
}

// TableName 指定 GORM 表名
func (SyncRun) TableName() string {
	return "sync_runs"
}
