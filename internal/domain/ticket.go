package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode/utf8"
)

// 与 tickets 表列宽一致的长度上限（按字符计）
const (
	MaxTitleLength           = 500
	MaxRequesterEmailLength  = 320
	MaxSourceMessageIDLength = 512
)

// TicketStatus 工单状态
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusDone       TicketStatus = "DONE"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// Valid 判断状态是否为已知取值
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusDone, TicketStatusCancelled:
		return true
	}
	return false
}

// TicketPriority 工单优先级
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// Ticket 表示一条工单。
//
// 由邮件同步创建的工单携带 SourceMessageID，作为去重键：
// 同一个非空 SourceMessageID 至多对应一条工单。
type Ticket struct {
	ID              string         `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	Title           string         `json:"title" gorm:"type:varchar(500);not null" db:"title"`
	Description     string         `json:"description" gorm:"type:text" db:"description"`
	RequesterEmail  string         `json:"requesterEmail" gorm:"type:varchar(320);index" db:"requester_email"`
	SourceMessageID *string        `json:"sourceMessageId,omitempty" gorm:"type:varchar(512);uniqueIndex" db:"source_message_id"`
	Status          TicketStatus   `json:"status" gorm:"type:varchar(20);index;not null" db:"status"`
	Priority        TicketPriority `json:"priority" gorm:"type:varchar(20);not null" db:"priority"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
}

// TableName 指定 GORM 表名
func (Ticket) TableName() string {
	return "tickets"
}

// Truncate 按字符截断到 maxRunes 个字符以内
func Truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

// SourceKey 把邮件 Message-ID 转换为可存储的去重键
//
// 不超过列宽的 ID 原样返回；过长的 ID 保留前缀并附加整串的 SHA-256，
// 同一个 ID 总是得到同一个键。
func SourceKey(messageID string) string {
	if utf8.RuneCountInString(messageID) <= MaxSourceMessageIDLength {
		return messageID
	}
	sum := sha256.Sum256([]byte(messageID))
	suffix := "#" + hex.EncodeToString(sum[:])
	return Truncate(messageID, MaxSourceMessageIDLength-len(suffix)) + suffix
}
