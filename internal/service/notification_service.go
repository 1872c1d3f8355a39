package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationSMS   NotificationType = "sms"
)

type EventType string

const (
	EventLoanApproved   EventType = "loan_approved"
	EventLoanRejected   EventType = "loan_rejected"
	EventPaymentApplied EventType = "payment_applied"
	EventLoanClosed     EventType = "loan_closed"
)

// LoanEvent is what the facade reports after a state change has committed.
type LoanEvent struct {
	Type       EventType
	LoanID     string
	CustomerID string
	ProviderID string
	Amount     decimal.Decimal
	Balance    decimal.Decimal
	Reason     string
}

type NotificationMessage struct {
	Type      NotificationType
	Recipient string
	Subject   string
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
}

type EmailService interface {
	SendEmail(to, subject, body string) error
}

type SMSService interface {
	SendSMS(to, message string) error
}

// NotificationRecorder is told about every delivery attempt.
type NotificationRecorder interface {
	RecordNotification(channel string, success bool)
}

type NotificationService struct {
	emailService EmailService
	smsService   SMSService
	recorder     NotificationRecorder
	messageQueue chan NotificationMessage
	workers      int
	wg           sync.WaitGroup
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
	logger       *slog.Logger
}

func NewNotificationService(
	emailService EmailService,
	smsService SMSService,
	recorder NotificationRecorder,
	workers int,
	queueSize int,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	service := &NotificationService{
		emailService: emailService,
		smsService:   smsService,
		recorder:     recorder,
		messageQueue: make(chan NotificationMessage, queueSize),
		workers:      workers,
		logger:       logger,
	}

	service.startWorkers()

	return service
}

// NotifyLoanEvent queues an email to the customer and an SMS to the
// provider. It never blocks: when the queue is full the messages are
// dropped and logged.
func (s *NotificationService) NotifyLoanEvent(ctx context.Context, event LoanEvent) {
	subject, body := describe(event)
	meta := map[string]string{
		"loan_id": event.LoanID,
		"event":   string(event.Type),
	}
	now := time.Now()

	for _, msg := range []NotificationMessage{
		{Type: NotificationEmail, Recipient: event.CustomerID, Subject: subject, Message: body, Metadata: meta, CreatedAt: now},
		{Type: NotificationSMS, Recipient: event.ProviderID, Subject: subject, Message: body, Metadata: meta, CreatedAt: now},
	} {
		s.enqueue(ctx, msg)
	}
}

func (s *NotificationService) enqueue(ctx context.Context, msg NotificationMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.WarnContext(ctx, "Notification dropped after shutdown",
			slog.String("loan_id", msg.Metadata["loan_id"]))
		return
	}

	select {
	case s.messageQueue <- msg:
		s.logger.DebugContext(ctx, "Notification queued",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.String("loan_id", msg.Metadata["loan_id"]))
	default:
		s.logger.WarnContext(ctx, "Notification queue full, dropping message",
			slog.String("type", string(msg.Type)),
			slog.String("loan_id", msg.Metadata["loan_id"]))
		if s.recorder != nil {
			s.recorder.RecordNotification(string(msg.Type), false)
		}
	}
}

func describe(event LoanEvent) (string, string) {
	switch event.Type {
	case EventLoanApproved:
		return "Loan approved", fmt.Sprintf("Loan %s was approved. Amount owed: %s.",
			event.LoanID, event.Balance.StringFixed(2))
	case EventLoanRejected:
		return "Loan rejected", fmt.Sprintf("Loan %s was rejected: %s.", event.LoanID, event.Reason)
	case EventPaymentApplied:
		return "Payment received", fmt.Sprintf("A payment of %s was applied to loan %s. Remaining balance: %s.",
			event.Amount.StringFixed(2), event.LoanID, event.Balance.StringFixed(2))
	case EventLoanClosed:
		return "Loan repaid", fmt.Sprintf("Loan %s is fully repaid and closed.", event.LoanID)
	default:
		return "Loan update", fmt.Sprintf("Loan %s changed: %s.", event.LoanID, event.Type)
	}
}

func (s *NotificationService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// worker drains the queue until it is closed.
func (s *NotificationService) worker(id int) {
	defer s.wg.Done()

	s.logger.Info("Notification worker started", slog.Int("worker_id", id))
	for msg := range s.messageQueue {
		s.processNotification(msg, id)
	}
	s.logger.Info("Notification worker stopping", slog.Int("worker_id", id))
}

func (s *NotificationService) processNotification(msg NotificationMessage, workerID int) {
	startTime := time.Now()
	var err error

	switch msg.Type {
	case NotificationEmail:
		err = s.emailService.SendEmail(msg.Recipient, msg.Subject, msg.Message)
	case NotificationSMS:
		err = s.smsService.SendSMS(msg.Recipient, msg.Message)
	default:
		err = fmt.Errorf("unknown notification type: %s", msg.Type)
	}

	duration := time.Since(startTime)
	if s.recorder != nil {
		s.recorder.RecordNotification(string(msg.Type), err == nil)
	}

	if err != nil {
		s.logger.Error("Failed to send notification",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.String("loan_id", msg.Metadata["loan_id"]),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	} else {
		s.logger.Info("Notification sent successfully",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.String("loan_id", msg.Metadata["loan_id"]),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	}
}

// Shutdown stops accepting messages and waits for queued ones to be sent.
func (s *NotificationService) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.messageQueue)
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Notification service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender delivers notifications to the process log. It stands in for
// real email and SMS gateways.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) SendEmail(to, subject, body string) error {
	l.logger().Info("Email", slog.String("to", to), slog.String("subject", subject), slog.String("body", body))
	return nil
}

func (l LogSender) SendSMS(to, message string) error {
	l.logger().Info("SMS", slog.String("to", to), slog.String("message", message))
	return nil
}

func (l LogSender) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

type MockEmailService struct {
	mu         sync.Mutex
	SentEmails []struct {
		To      string
		Subject string
		Body    string
	}
}

func (m *MockEmailService) SendEmail(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEmails = append(m.SentEmails, struct {
		To      string
		Subject string
		Body    string
	}{to, subject, body})
	return nil
}

func (m *MockEmailService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentEmails)
}

type MockSMSService struct {
	mu      sync.Mutex
	SentSMS []struct {
		To      string
		Message string
	}
}

func (m *MockSMSService) SendSMS(to, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentSMS = append(m.SentSMS, struct {
		To      string
		Message string
	}{to, message})
	return nil
}

func (m *MockSMSService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentSMS)
}
