package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender はメールを送信するインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender はSMTPでメールを送信する。
// ポート465以外ではSTARTTLSが利用可能な場合に使用する。
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

// Send はメールを送信する。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTPサーバーへの接続に失敗しました: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("SMTPクライアントの作成に失敗しました: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("STARTTLSに失敗しました: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP認証に失敗しました: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("送信元の設定に失敗しました: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("送信先の設定に失敗しました: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("本文の送信開始に失敗しました: %w", err)
	}
	body, err := buildMIME(s.cfg.From, msg, time.Now())
	if err != nil {
		_ = w.Close()
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("本文の書き込みに失敗しました: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("本文の送信に失敗しました: %w", err)
	}

	// 本文は受理済みのためQUITの失敗は無視する
	_ = client.Quit()
	return nil
}

// buildMIME はテキストとHTMLを含むmultipart/alternativeのメッセージを組み立てる。
func buildMIME(from string, msg Message, now time.Time) ([]byte, error) {
	boundary := "subwatch-" + uuid.NewString()

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Type: %s\r\n", p.contentType)
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

		qp := quotedprintable.NewWriter(&b)
		if _, err := qp.Write([]byte(strings.ReplaceAll(p.body, "\n", "\r\n"))); err != nil {
			return nil, fmt.Errorf("本文のエンコードに失敗しました: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("本文のエンコードに失敗しました: %w", err)
		}
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.Bytes(), nil
}

// LogSender はメールを送信せずログに記録する。SMTP未設定の環境で使う。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はメールの宛先と件名をログに記録する。
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("SMTP未設定のためダイジェストをログに出力しました",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("text_length", len(msg.Text)),
	)
	return nil
}

// compile-time interface check
var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
