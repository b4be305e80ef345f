package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "TICKETMAIL"

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
	MaxSize     int    // 单个日志文件大小上限 (MB)
	MaxBackups  int
	MaxAge      int // 天
	Compress    bool
}

// DatabaseConfig 定义数据库连接配置
type DatabaseConfig struct {
	Type string // "" (内存), "sqlite", "postgres", "mysql"
	// Engine 访问方式: "gorm" 或 "sqlx"；sqlite 总是使用 sqlx
	Engine          string
	DSN             string
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置（用于跨进程的同步互斥锁）
type RedisConfig struct {
	Enabled  bool
	Address  string // 格式 "host:port"，默认 "localhost:6379"
	Password string
	DB       int
	LockTTL  time.Duration // 同步锁的过期时间，需大于一次同步的最长耗时
}

// IMAPConfig 定义收件邮箱的连接配置
type IMAPConfig struct {
	Host               string
	Port               int
	TLS                bool
	InsecureSkipVerify bool
	Username           string
	Password           string
	Mailbox            string        // 默认 "INBOX"
	Backend            string        // "native" 或 "imapv2"
	DialTimeout        time.Duration // 建立连接超时
	CommandTimeout     time.Duration // 单条命令的读超时
	TicketMarker       string        // 主题中的工单标记，默认 "[TICKET]"
	SinceDays          int           // 只搜索最近 N 天发送的邮件，0 表示不限
}

// SMTPConfig 定义通知邮件的发送配置
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string // 发件地址，默认使用 Username
	Backend            string // "native" 或 "gosmtp"
	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	RatePerMinute      int // 每分钟最多发送的通知数，0 表示不限
}

// NotificationConfig 定义通知异步派发的协程池配置
type NotificationConfig struct {
	Workers   int
	QueueSize int
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server       ServerConfig
	CORS         CORSConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	IMAP         IMAPConfig
	SMTP         SMTPConfig
	Notification NotificationConfig
}

// MissingError 表示缺少必需的配置项，Variable 为对应的环境变量名
type MissingError struct {
	Variable string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Variable)
}

// EnvName 返回配置键对应的环境变量名，例如 imap.host -> TICKETMAIL_IMAP_HOST
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TICKETMAIL_，例如 TICKETMAIL_IMAP_HOST
//
// 收发邮件的必需项不在这里校验，而是在每次创建协议客户端前由
// IMAPConfig.Validate / SMTPConfig.Validate 检查，
// 这样缺少邮箱配置时 HTTP 服务仍能启动并在同步记录里报告原因。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix(strings.ToLower(EnvPrefix))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"database.conn_max_lifetime",
		"redis.lock_ttl",
		"imap.dial_timeout",
		"imap.command_timeout",
		"smtp.timeout",
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvName(key), err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", EnvName(key))
		}
		durations[key] = d
	}

	dbType := strings.ToLower(strings.TrimSpace(v.GetString("database.type")))
	engine := strings.ToLower(strings.TrimSpace(v.GetString("database.engine")))
	switch dbType {
	case "":
	case "sqlite":
		engine = "sqlx"
	case "postgres", "mysql":
		if engine != "gorm" && engine != "sqlx" {
			return nil, fmt.Errorf("invalid %s: %q (supported: gorm, sqlx)", EnvName("database.engine"), engine)
		}
	default:
		return nil, fmt.Errorf("invalid %s: %q (supported: sqlite, postgres, mysql)", EnvName("database.type"), dbType)
	}
	if dbType != "" && v.GetString("database.dsn") == "" {
		return nil, &MissingError{Variable: EnvName("database.dsn")}
	}

	imapBackend := strings.ToLower(v.GetString("imap.backend"))
	if imapBackend != "native" && imapBackend != "imapv2" {
		return nil, fmt.Errorf("invalid %s: %q (supported: native, imapv2)", EnvName("imap.backend"), imapBackend)
	}
	smtpBackend := strings.ToLower(v.GetString("smtp.backend"))
	if smtpBackend != "native" && smtpBackend != "gosmtp" {
		return nil, fmt.Errorf("invalid %s: %q (supported: native, gosmtp)", EnvName("smtp.backend"), smtpBackend)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			Engine:          engine,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durations["database.conn_max_lifetime"],
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  durations["redis.lock_ttl"],
		},
		IMAP: IMAPConfig{
			Host:               strings.TrimSpace(v.GetString("imap.host")),
			Port:               v.GetInt("imap.port"),
			TLS:                v.GetBool("imap.tls"),
			InsecureSkipVerify: v.GetBool("imap.insecure_skip_verify"),
			Username:           v.GetString("imap.username"),
			Password:           v.GetString("imap.password"),
			Mailbox:            v.GetString("imap.mailbox"),
			Backend:            imapBackend,
			DialTimeout:        durations["imap.dial_timeout"],
			CommandTimeout:     durations["imap.command_timeout"],
			TicketMarker:       v.GetString("imap.ticket_marker"),
			SinceDays:          v.GetInt("imap.since_days"),
		},
		SMTP: SMTPConfig{
			Host:               strings.TrimSpace(v.GetString("smtp.host")),
			Port:               v.GetInt("smtp.port"),
			Username:           v.GetString("smtp.username"),
			Password:           v.GetString("smtp.password"),
			From:               v.GetString("smtp.from"),
			Backend:            smtpBackend,
			StartTLS:           v.GetBool("smtp.starttls"),
			InsecureSkipVerify: v.GetBool("smtp.insecure_skip_verify"),
			Timeout:            durations["smtp.timeout"],
			RatePerMinute:      v.GetInt("smtp.rate_per_minute"),
		},
		Notification: NotificationConfig{
			Workers:   v.GetInt("notification.workers"),
			QueueSize: v.GetInt("notification.queue_size"),
		},
	}

	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.engine", "gorm")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "15m")
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.insecure_skip_verify", false)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.backend", "native")
	v.SetDefault("imap.dial_timeout", "15s")
	v.SetDefault("imap.command_timeout", "60s")
	v.SetDefault("imap.ticket_marker", "[TICKET]")
	v.SetDefault("imap.since_days", 0)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.backend", "native")
	v.SetDefault("smtp.starttls", true)
	v.SetDefault("smtp.insecure_skip_verify", false)
	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("smtp.rate_per_minute", 30)
	v.SetDefault("notification.workers", 2)
	v.SetDefault("notification.queue_size", 100)
}

// Validate 检查收件邮箱的必需配置，错误中给出缺失的环境变量名
func (c *IMAPConfig) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"imap.host", c.Host},
		{"imap.username", c.Username},
		{"imap.password", c.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &MissingError{Variable: EnvName(r.key)}
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid %s: %d", EnvName("imap.port"), c.Port)
	}
	return nil
}

// Validate 检查通知发送的必需配置，错误中给出缺失的环境变量名
func (c *SMTPConfig) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"smtp.host", c.Host},
		{"smtp.username", c.Username},
		{"smtp.password", c.Password},
		{"smtp.from", c.From},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &MissingError{Variable: EnvName(r.key)}
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid %s: %d", EnvName("smtp.port"), c.Port)
	}
	return nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
