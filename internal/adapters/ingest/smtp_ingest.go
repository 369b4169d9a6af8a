package ingest

import (
	"bytes"
	"errors"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/inboxpilot/triage/internal/core"
	"go.uber.org/zap"
)

// Sink is where parsed emails go. The engine satisfies it.
type Sink interface {
	Enqueue(email *core.EmailRecord) (*core.Handle, error)
}

// Observer is notified of every accepted email before enqueue. The
// storage layer uses it to associate sender metadata with the email id.
type Observer interface {
	NoteEmail(email *core.EmailRecord)
}

// SMTPIngest accepts mail over SMTP from the mail-sync collaborator
// and feeds it into the classification queue.
type SMTPIngest struct {
	sink       Sink
	observer   Observer
	logger     *zap.Logger
	listenAddr string
	server     *smtp.Server
}

// NewSMTPIngest creates a new SMTP ingest listener. observer may be nil.
func NewSMTPIngest(sink Sink, observer Observer, logger *zap.Logger, listenAddr string) *SMTPIngest {
	return &SMTPIngest{
		sink:       sink,
		observer:   observer,
		logger:     logger,
		listenAddr: listenAddr,
	}
}

// Start starts the SMTP listener in a background goroutine.
func (i *SMTPIngest) Start() error {
	i.server = smtp.NewServer(&smtpBackend{ingest: i})

	i.server.Addr = i.listenAddr
	i.server.Domain = "localhost"
	i.server.ReadTimeout = 30 * time.Second
	i.server.WriteTimeout = 30 * time.Second
	i.server.MaxMessageBytes = 30 * 1024 * 1024 // 30MB
	i.server.MaxRecipients = 50
	i.server.AllowInsecureAuth = true

	i.logger.Info("SMTP ingest starting", zap.String("address", i.listenAddr))

	go func() {
		if err := i.server.ListenAndServe(); err != nil {
			if err != smtp.ErrServerClosed {
				i.logger.Error("SMTP server error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop stops the SMTP listener.
func (i *SMTPIngest) Stop() error {
	if i.server != nil {
		return i.server.Close()
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	ingest *SMTPIngest
}

func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{
		ingest:     b.ingest,
		recipients: make([]string, 0),
	}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	ingest     *SMTPIngest
	sender     string
	recipients []string
}

func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = make([]string, 0)
}

func (s *smtpSession) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data parses the message and hands it to the queue. A full queue is
// reported as a transient 451 so the upstream retries later instead of
// dropping the message.
func (s *smtpSession) Data(r io.Reader) error {
	rawData, err := io.ReadAll(r)
	if err != nil {
		s.ingest.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	msg, err := mail.ReadMessage(bytes.NewReader(rawData))
	if err != nil {
		s.ingest.logger.Error("Failed to parse email message", zap.Error(err))
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}

	email := buildEmailRecord(msg, s.sender, s.recipients)

	if s.ingest.observer != nil {
		s.ingest.observer.NoteEmail(email)
	}

	if _, err := s.ingest.sink.Enqueue(email); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			s.ingest.logger.Warn("Queue full, asking sender to retry",
				zap.String("from", email.From))
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 1},
				Message:      "Queue full, try again later",
			}
		}
		s.ingest.logger.Error("Failed to enqueue email",
			zap.Error(err),
			zap.String("from", email.From))
		return err
	}

	s.ingest.logger.Debug("Accepted email",
		zap.String("email_id", email.ID),
		zap.String("from", email.From))

	return nil
}

func (s *smtpSession) Logout() error {
	return nil
}

// buildEmailRecord converts a parsed mail message into the engine's
// input record. The Message-ID header becomes the email id so a resent
// message dedupes against its earlier classification.
func buildEmailRecord(msg *mail.Message, sender string, recipients []string) *core.EmailRecord {
	email := &core.EmailRecord{
		ID:         strings.Trim(msg.Header.Get("Message-ID"), "<>"),
		From:       sender,
		To:         recipients,
		ReceivedAt: time.Now(),
		Headers:    make(map[string][]string),
	}
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if from := msg.Header.Get("From"); from != "" {
		if addr, err := mail.ParseAddress(from); err == nil {
			email.From = addr.Address
		}
	}

	for key, values := range msg.Header {
		email.Headers[key] = values
	}

	subject, err := decodeEncodedHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}
	email.Subject = subject

	if date, err := msg.Header.Date(); err == nil {
		email.ReceivedAt = date
	}

	if body, err := extractTextFromMessage(msg); err == nil {
		email.Body = body
	}

	return email
}
