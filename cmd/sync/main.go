// Command sync 执行一次邮件同步后退出，适合由 cron 等外部调度器调用。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ticketmail/backend/internal/app"
	"ticketmail/backend/internal/config"
	"ticketmail/backend/internal/logger"
	"ticketmail/backend/internal/service"
)

func main() {
	listRuns := flag.Int("list", 0, "只列出最近 N 条同步记录，不执行同步")
	asJSON := flag.Bool("json", false, "以 JSON 输出结果")
	flag.Parse()

	os.Exit(run(*listRuns, *asJSON))
}

func run(listRuns int, asJSON bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log, "sync-cli"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", zap.Error(err))
		return 2
	}
	defer application.Close()

	if listRuns > 0 {
		runs, err := application.Sync.ListRuns(listRuns)
		if err != nil {
			log.Error("failed to list sync runs", zap.Error(err))
			return 1
		}
		if asJSON {
			return printJSON(runs)
		}
		for _, r := range runs {
			fmt.Printf("%s  %-9s  %s  processed=%d created=%d\n",
				r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), r.MessagesProcessed, r.TicketsCreated)
		}
		return 0
	}

	// 会话进行中收到信号不退出，等待本次同步结束
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := application.Sync.RunExclusive(context.WithoutCancel(ctx))
	if asJSON {
		out := map[string]interface{}{"success": err == nil}
		if result != nil {
			out["runId"] = result.ID
			out["messagesProcessed"] = result.MessagesProcessed
			out["ticketsCreated"] = result.TicketsCreated
		}
		if err != nil {
			out["error"] = err.Error()
		}
		if code := printJSON(out); code != 0 {
			return code
		}
	}
	if err != nil {
		if errors.Is(err, service.ErrSyncInProgress) {
			log.Warn("another sync is already running")
			return 3
		}
		return 1
	}

	if !asJSON {
		fmt.Printf("Successfully processed %d emails and created %d tickets\n", result.MessagesProcessed, result.TicketsCreated)
	}
	return 0
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		return 1
	}
	return 0
}
