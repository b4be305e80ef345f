package submission

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "notify@example.com"
	testPass = "p@ss word"
)

// delivery 测试服务器收到的一封邮件
type delivery struct {
	From string
	To   []string
	Data string
}

// recordingBackend 记录收到的邮件，可按收件人拒绝
type recordingBackend struct {
	mu         sync.Mutex
	deliveries []delivery
	authed     bool
	rejectRcpt map[string]bool
}

func (b *recordingBackend) NewSession(*gosmtp.Conn) (gosmtp.Session, error) {
	return &recordingSession{backend: b}, nil
}

func (b *recordingBackend) received() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.deliveries...)
}

func (b *recordingBackend) authenticated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authed
}

type recordingSession struct {
	backend *recordingBackend
	from    string
	rcpts   []string
}

var _ gosmtp.AuthSession = (*recordingSession)(nil)

func (s *recordingSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *recordingSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != testUser || password != testPass {
			return &gosmtp.SMTPError{Code: 535, EnhancedCode: gosmtp.EnhancedCode{5, 7, 8}, Message: "authentication failed"}
		}
		s.backend.mu.Lock()
		s.backend.authed = true
		s.backend.mu.Unlock()
		return nil
	}), nil
}

func (s *recordingSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *recordingSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.backend.rejectRcpt[to] {
		return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "recipient mailbox not found"}
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *recordingSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.deliveries = append(s.backend.deliveries, delivery{From: s.from, To: s.rcpts, Data: string(raw)})
	return nil
}

func (s *recordingSession) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *recordingSession) Logout() error { return nil }

// selfSignedTLS 为 127.0.0.1 生成一次性的自签名证书
func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}

// startServer 启动 go-smtp 测试服务器，tlsConfig 非空时支持 STARTTLS
func startServer(t *testing.T, backend *recordingBackend, tlsConfig *tls.Config) Options {
	t.Helper()

	server := gosmtp.NewServer(backend)
	server.Domain = "localhost"
	server.AllowInsecureAuth = true
	server.ReadTimeout = 5 * time.Second
	server.WriteTimeout = 5 * time.Second
	server.TLSConfig = tlsConfig

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	return Options{
		Host:      "127.0.0.1",
		Port:      ln.Addr().(*net.TCPAddr).Port,
		LocalName: "client.test",
		Timeout:   5 * time.Second,
	}
}

// startScripted 启动按 replies 逐条应答的服务器，第一条是问候
func startScripted(t *testing.T, replies ...string) Options {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for i, reply := range replies {
			if i > 0 {
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
			}
			if _, err := io.WriteString(conn, reply+"\r\n"); err != nil {
				return
			}
		}
		// 保持连接直到客户端关闭
		_, _ = io.Copy(io.Discard, r)
	}()

	return Options{
		Host:      "127.0.0.1",
		Port:      ln.Addr().(*net.TCPAddr).Port,
		LocalName: "client.test",
		Timeout:   2 * time.Second,
	}
}

func submissionError(t *testing.T, err error) *SubmissionError {
	t.Helper()
	var se *SubmissionError
	require.True(t, errors.As(err, &se), "got %v", err)
	return se
}

func headerValue(raw, name string) string {
	for _, line := range strings.Split(raw, "\r\n") {
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, name+": "); ok {
			return v
		}
	}
	return ""
}
