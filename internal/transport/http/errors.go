package httptransport

import (
	"errors"
	"net/http"

	"ticketmail/backend/internal/mailbox"
	"ticketmail/backend/internal/service"
	"ticketmail/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	storage.ErrTicketNotFound:  "工单不存在",
	storage.ErrSyncRunNotFound: "同步记录不存在",
	service.ErrInvalidStatus:   "工单状态无效",
	service.ErrTicketNotDone:   "只有已完成的工单才能发送完成通知",
	service.ErrSyncInProgress:  "已有同步正在进行",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// syncErrorStatus 同步失败时的 HTTP 状态码。
//
// 邮箱连接、认证和协议错误都是上游问题，返回 502。
func syncErrorStatus(err error) int {
	var (
		connErr  *mailbox.ConnectionError
		authErr  *mailbox.AuthError
		protoErr *mailbox.ProtocolError
	)
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		return http.StatusConflict
	case errors.As(err, &connErr), errors.As(err, &authErr), errors.As(err, &protoErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidLimit   = "limit 必须是正整数"
	MsgInternalError  = "服务器内部错误，请稍后重试"

	MsgTicketGetFailed    = "获取工单失败"
	MsgTicketUpdateFailed = "更新工单状态失败"
	MsgRunListFailed      = "获取同步记录失败"
	MsgNotificationQueued = "完成通知已提交发送"
)
