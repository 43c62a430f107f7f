package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail"
	"github.com/google/uuid"
	"github.com/mrz1836/postmark"
	"go.uber.org/zap"
)

// Supported transports.
const (
	TransportLog      = "log"
	TransportPostmark = "postmark"
	TransportSMTP     = "smtp"
)

var (
	ErrInvalidConfig  = errors.New("notify: invalid mailer config")
	ErrInvalidMessage = errors.New("notify: invalid message")
	ErrSendFailed     = errors.New("notify: send failed")
)

// Message is one outbound HTML email.
type Message struct {
	To       string
	Subject  string
	Tag      string
	HTMLBody string
	TextBody string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.HTMLBody) == "" && strings.TrimSpace(m.TextBody) == "" {
		return fmt.Errorf("%w: body required", ErrInvalidMessage)
	}
	return nil
}

// Mailer sends a message and returns the transport's message id.
type Mailer interface {
	Send(ctx context.Context, message Message) (string, error)
}

// TransportConfig selects and configures a Mailer.
type TransportConfig struct {
	Transport            string
	SenderEmail          string
	SupportEmail         string
	PostmarkServerToken  string
	PostmarkAccountToken string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
}

// NewMailer builds the mailer named by cfg.Transport.
func NewMailer(cfg TransportConfig, logger *zap.Logger) (Mailer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", TransportLog:
		return NewLogMailer(logger), nil
	case TransportPostmark:
		return NewPostmarkMailer(cfg)
	case TransportSMTP:
		return NewSMTPMailer(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
}

// PostmarkMailer sends through Postmark's transactional API.
type PostmarkMailer struct {
	client *postmark.Client
	from   string
	reply  string
}

// NewPostmarkMailer validates tokens and the sender address.
func NewPostmarkMailer(cfg TransportConfig) (*PostmarkMailer, error) {
	if cfg.PostmarkServerToken == "" || cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: postmark tokens are required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, fmt.Errorf("%w: sender email is required", ErrInvalidConfig)
	}
	reply := cfg.SupportEmail
	if reply == "" {
		reply = cfg.SenderEmail
	}
	return &PostmarkMailer{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:   cfg.SenderEmail,
		reply:  reply,
	}, nil
}

func (m *PostmarkMailer) Send(ctx context.Context, message Message) (string, error) {
	if err := message.validate(); err != nil {
		return "", err
	}
	response, err := m.client.SendEmail(ctx, postmark.Email{
		From:       m.from,
		ReplyTo:    m.reply,
		To:         message.To,
		Subject:    message.Subject,
		Tag:        message.Tag,
		HTMLBody:   message.HTMLBody,
		TextBody:   message.TextBody,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return "", errors.Join(ErrSendFailed, err)
	}
	if response.ErrorCode > 0 {
		return "", errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", response.ErrorCode, response.Message))
	}
	return response.MessageID, nil
}

// SMTPMailer sends through an SMTP relay.
type SMTPMailer struct {
	dialer *mail.Dialer
	from   string
	reply  string
	domain string
}

// NewSMTPMailer validates the relay configuration.
func NewSMTPMailer(cfg TransportConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" || cfg.SMTPPort <= 0 {
		return nil, fmt.Errorf("%w: smtp host and port are required", ErrInvalidConfig)
	}
	sender := strings.TrimSpace(cfg.SenderEmail)
	at := strings.LastIndex(sender, "@")
	if at < 1 || at == len(sender)-1 {
		return nil, fmt.Errorf("%w: sender email is required", ErrInvalidConfig)
	}
	dialer := mail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost}
	dialer.StartTLSPolicy = mail.OpportunisticStartTLS
	return &SMTPMailer{
		dialer: dialer,
		from:   sender,
		reply:  cfg.SupportEmail,
		domain: sender[at+1:],
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, message Message) (string, error) {
	if err := message.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.domain)
	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", message.To)
	msg.SetHeader("Subject", message.Subject)
	msg.SetHeader("Message-ID", messageID)
	if m.reply != "" {
		msg.SetHeader("Reply-To", m.reply)
	}
	switch {
	case message.TextBody != "" && message.HTMLBody != "":
		msg.SetBody("text/plain", message.TextBody)
		msg.AddAlternative("text/html", message.HTMLBody)
	case message.HTMLBody != "":
		msg.SetBody("text/html", message.HTMLBody)
	default:
		msg.SetBody("text/plain", message.TextBody)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return "", errors.Join(ErrSendFailed, err)
	}
	return messageID, nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a development mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, message Message) (string, error) {
	if err := message.validate(); err != nil {
		return "", err
	}
	messageID := uuid.NewString()
	m.logger.Info("email captured",
		zap.String("message_id", messageID),
		zap.String("to", message.To),
		zap.String("subject", message.Subject),
		zap.String("tag", message.Tag),
		zap.String("text", message.TextBody),
	)
	return messageID, nil
}
