package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/storage"
)

func newTicket(id, source string) *domain.Ticket {
	now := time.Now().UTC()
	ticket := &domain.Ticket{
		ID:             id,
		Title:          "Printer broken",
		Description:    "The printer on floor 2 is jammed.",
		RequesterEmail: "Alice <alice@example.com>",
		Status:         domain.TicketStatusOpen,
		Priority:       domain.TicketPriorityMedium,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if source != "" {
		ticket.SourceMessageID = &source
	}
	return ticket
}

func TestMemoryStore_TicketOperations(t *testing.T) {
	store := NewStore()

	t.Run("创建并查询工单", func(t *testing.T) {
		require.NoError(t, store.CreateTicket(newTicket("t-1", "<m1@example.com>")))

		exists, err := store.ExistsBySourceMessageID("<m1@example.com>")
		require.NoError(t, err)
		assert.True(t, exists)

		ticket, err := store.GetTicket("t-1")
		require.NoError(t, err)
		assert.Equal(t, "Printer broken", ticket.Title)
		assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	})

	t.Run("重复来源邮件返回冲突", func(t *testing.T) {
		err := store.CreateTicket(newTicket("t-2", "<m1@example.com>"))
		assert.ErrorIs(t, err, storage.ErrDuplicateTicket)

		_, err = store.GetTicket("t-2")
		assert.ErrorIs(t, err, storage.ErrTicketNotFound)
	})

	t.Run("无来源邮件的工单不参与去重", func(t *testing.T) {
		require.NoError(t, store.CreateTicket(newTicket("t-3", "")))
		require.NoError(t, store.CreateTicket(newTicket("t-4", "")))
	})

	t.Run("更新为 DONE 记录完成时间", func(t *testing.T) {
		ticket, err := store.UpdateTicketStatus("t-1", domain.TicketStatusDone)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusDone, ticket.Status)
		require.NotNil(t, ticket.CompletedAt)

		ticket, err = store.UpdateTicketStatus("t-1", domain.TicketStatusInProgress)
		require.NoError(t, err)
		assert.Nil(t, ticket.CompletedAt)
	})

	t.Run("更新不存在的工单", func(t *testing.T) {
		_, err := store.UpdateTicketStatus("missing", domain.TicketStatusDone)
		assert.ErrorIs(t, err, storage.ErrTicketNotFound)
	})
}

func TestMemoryStore_SyncRunOperations(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		run := &domain.SyncRun{
			ID:        string(rune('a' + i)),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    domain.SyncStatusRunning,
		}
		require.NoError(t, store.CreateSyncRun(run))
	}

	t.Run("默认返回最近 10 条并倒序", func(t *testing.T) {
		runs, err := store.ListSyncRuns(0)
		require.NoError(t, err)
		require.Len(t, runs, 10)
		assert.Equal(t, "l", runs[0].ID)
		assert.Equal(t, "c", runs[9].ID)
	})

	t.Run("终态只能写入一次", func(t *testing.T) {
		completed := base.Add(time.Hour)
		run := &domain.SyncRun{
			ID:                "a",
			StartedAt:         base,
			CompletedAt:       &completed,
			Status:            domain.SyncStatusCompleted,
			MessagesProcessed: 3,
			TicketsCreated:    2,
		}
		require.NoError(t, store.FinishSyncRun(run))

		run.Status = domain.SyncStatusFailed
		assert.ErrorIs(t, store.FinishSyncRun(run), storage.ErrSyncRunFinished)

		stored, err := store.GetSyncRun("a")
		require.NoError(t, err)
		assert.Equal(t, domain.SyncStatusCompleted, stored.Status)
		assert.Equal(t, 2, stored.TicketsCreated)
	})

	t.Run("不存在的记录", func(t *testing.T) {
		_, err := store.GetSyncRun("missing")
		assert.ErrorIs(t, err, storage.ErrSyncRunNotFound)
		assert.ErrorIs(t, store.FinishSyncRun(&domain.SyncRun{ID: "missing"}), storage.ErrSyncRunNotFound)
	})
}
