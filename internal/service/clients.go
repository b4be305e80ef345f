package service

import (
	"crypto/tls"

	"go.uber.org/zap"

	"ticketmail/backend/internal/config"
	"ticketmail/backend/internal/mailbox"
	"ticketmail/backend/internal/submission"
)

// MailboxFactory 每次同步创建一个新的邮箱客户端
type MailboxFactory func() (mailbox.Client, error)

// SenderFactory 每次发送创建一个新的 Sender
type SenderFactory func() (submission.Sender, error)

// NewMailboxFactory 根据配置创建客户端工厂；配置缺失时在联网前失败
func NewMailboxFactory(cfg config.IMAPConfig, log *zap.Logger) MailboxFactory {
	return func() (mailbox.Client, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		opts := mailbox.Options{
			Backend:        cfg.Backend,
			Host:           cfg.Host,
			Port:           cfg.Port,
			TLS:            cfg.TLS,
			DialTimeout:    cfg.DialTimeout,
			CommandTimeout: cfg.CommandTimeout,
			Logger:         log,
		}
		if cfg.InsecureSkipVerify {
			opts.TLSConfig = insecureTLS()
		}
		return mailbox.New(opts)
	}
}

// NewSenderFactory 根据配置创建 Sender 工厂，每次调用都读取传入的配置副本
func NewSenderFactory(cfg config.SMTPConfig, log *zap.Logger) SenderFactory {
	return func() (submission.Sender, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		opts := submission.Options{
			Backend:  cfg.Backend,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			StartTLS: cfg.StartTLS,
			Timeout:  cfg.Timeout,
			Logger:   log,
		}
		if cfg.InsecureSkipVerify {
			opts.TLSConfig = insecureTLS()
		}
		return submission.New(opts)
	}
}

func insecureTLS() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}
}
