package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"reacher-sentinel/config"
	"reacher-sentinel/models"
)

const (
	webhookTimeout    = 7 * time.Second
	emailTimeout      = 7 * time.Second
	emailImplicitPort = 465
)

// Notifier delivers one alert to one contact method. A nil error means the
// transport accepted the message.
type Notifier interface {
	Notify(ctx context.Context, contact models.ContactMethod, alert models.Alert) error
}

// AlertSubject is the subject line of every alert message.
func AlertSubject(alert models.Alert) string {
	return fmt.Sprintf("Alert for %s at %s", alert.ServiceID, alert.DetectionTimestamp.UTC().Format("02/01/2006, 15:04"))
}

func alertBody(alert models.Alert) string {
	return fmt.Sprintf("Detected downtime of service %s at %s\nAlertId: %s\nAcknowledge with POST /api/v1/alerts/%s/ack\n",
		alert.ServiceID, alert.DetectionTimestamp.UTC().Format("02/01/2006, 15:04"), alert.AlertID, alert.AlertID)
}

// Dispatcher routes a notification to the transport registered for the contact kind.
type Dispatcher struct {
	transports map[models.ContactKind]Notifier
}

func NewDispatcher(transports map[models.ContactKind]Notifier) *Dispatcher {
	return &Dispatcher{transports: transports}
}

// NewNotifier builds the dispatcher selected by NOTIFIER_MODE.
func NewNotifier(cfg config.NotifierConfig, logger *slog.Logger) Notifier {
	if cfg.Mode != config.NotifierLive {
		l := NewLogNotifier(logger)
		return NewDispatcher(map[models.ContactKind]Notifier{
			models.ContactEmail:   l,
			models.ContactWebhook: l,
		})
	}
	return NewDispatcher(map[models.ContactKind]Notifier{
		models.ContactEmail:   NewEmailNotifier(cfg),
		models.ContactWebhook: NewWebhookNotifier(cfg.Timeout),
	})
}

func (d *Dispatcher) Notify(ctx context.Context, contact models.ContactMethod, alert models.Alert) error {
	n, ok := d.transports[contact.Kind]
	if !ok {
		return fmt.Errorf("unsupported contact kind: %s", contact.Kind)
	}
	return n.Notify(ctx, contact, alert)
}

// WebhookNotifier POSTs the alert as JSON to the contact address.
type WebhookNotifier struct {
	client *http.Client
}

func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = webhookTimeout
	}
	return &WebhookNotifier{client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Subject string       `json:"subject"`
	Text    string       `json:"text"`
	Alert   models.Alert `json:"alert"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, contact models.ContactMethod, alert models.Alert) error {
	if strings.TrimSpace(contact.Address) == "" {
		return fmt.Errorf("empty webhook address")
	}
	body, err := json.Marshal(webhookPayload{Subject: AlertSubject(alert), Text: alertBody(alert), Alert: alert})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contact.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %s", resp.Status)
	}
	return nil
}

// EmailNotifier sends plain text mail over SMTP, upgrading with STARTTLS when offered.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	// timeout bounds the whole SMTP conversation, dial included.
	timeout time.Duration
}

func NewEmailNotifier(cfg config.NotifierConfig) *EmailNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = emailTimeout
	}
	return &EmailNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SenderEmail,
		timeout:  timeout,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, contact models.ContactMethod, alert models.Alert) error {
	if strings.TrimSpace(n.host) == "" || n.port == 0 {
		return fmt.Errorf("smtp host/port not configured")
	}
	if strings.TrimSpace(n.from) == "" {
		return fmt.Errorf("sender email not configured")
	}
	to := strings.TrimSpace(contact.Address)
	if to == "" {
		return fmt.Errorf("empty email address")
	}
	msg := buildEmailMessage(n.from, to, AlertSubject(alert), alertBody(alert))
	return n.send(ctx, to, msg)
}

func (n *EmailNotifier) send(ctx context.Context, to string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set smtp deadline: %w", err)
	}
	// net/smtp ignores ctx; closing the conn unblocks any pending read or write
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := n.converse(ctx, conn, to, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w (%w)", err, ctxErr)
		}
		return err
	}
	return nil
}

func (n *EmailNotifier) converse(ctx context.Context, conn net.Conn, to string, msg []byte) error {
	implicitTLS := n.port == emailImplicitPort
	if implicitTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: n.host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	c, err := smtp.NewClient(conn, n.host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	secure := implicitTLS
	if !implicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: n.host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
			secure = true
		}
	}

	if n.username != "" {
		if !secure {
			return fmt.Errorf("refusing to authenticate without TLS")
		}
		if err := c.Auth(smtp.PlainAuth("", n.username, n.password, n.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(n.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to %s: %w", to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	_ = c.Quit()
	return nil
}

func buildEmailMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}
	header("From", "Alerter platform <"+from+">")
	header("To", to)
	header("Subject", strings.NewReplacer("\r", " ", "\n", " ").Replace(subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return buf.Bytes()
}

// LogNotifier only logs the notification. Used in dev mode.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, contact models.ContactMethod, alert models.Alert) error {
	n.logger.Info("sending alert",
		"alert_id", alert.AlertID,
		"service_id", alert.ServiceID,
		"kind", contact.Kind,
		"address", contact.Address,
		"subject", AlertSubject(alert))
	return nil
}
