package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/pipeline"
	"github.com/eagleharbor/monitor/internal/token"
)

// Service handles the subscriber lifecycle: signup, verification,
// unsubscribe. Verification and welcome emails are single-recipient sends
// through the same mailer the dispatcher uses.
type Service struct {
	subscribers pipeline.SubscriberStore
	mailer      pipeline.Mailer
	logger      *zap.Logger
	appURL      string
}

// NewService constructs a Service.
func NewService(subscribers pipeline.SubscriberStore, mailer pipeline.Mailer, appURL string, logger *zap.Logger) *Service {
	return &Service{
		subscribers: subscribers,
		mailer:      mailer,
		logger:      logger,
		appURL:      appURL,
	}
}

// Subscribe registers an email address and sends a verification link. A
// duplicate signup from a still-unverified address re-sends the original
// link; a duplicate from a verified one is a silent success, leaking
// nothing about who is subscribed.
func (s *Service) Subscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidEmail, err)
	}

	verifyToken, err := token.New()
	if err != nil {
		return fmt.Errorf("mint verification token: %w", err)
	}
	unsubToken, err := token.New()
	if err != nil {
		return fmt.Errorf("mint unsubscribe token: %w", err)
	}

	sub, err := s.subscribers.Create(ctx, email, verifyToken, unsubToken)
	if errors.Is(err, pipeline.ErrDuplicateEmail) {
		return s.resend(ctx, email)
	}
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}

	s.logger.Info("subscriber created", zap.Int64("subscriber_id", sub.ID))
	return s.sendVerification(ctx, email, verifyToken)
}

// resend handles a repeat signup for an existing address.
func (s *Service) resend(ctx context.Context, email string) error {
	sub, err := s.subscribers.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load existing subscriber: %w", err)
	}
	if sub.Verified || sub.VerificationToken == nil {
		return nil
	}
	s.logger.Info("re-sending verification", zap.Int64("subscriber_id", sub.ID))
	return s.sendVerification(ctx, email, *sub.VerificationToken)
}

func (s *Service) sendVerification(ctx context.Context, email, verifyToken string) error {
	body, err := renderVerification(s.appURL, verifyToken)
	if err != nil {
		return err
	}
	results := s.mailer.SendBatch(ctx, []pipeline.Message{{
		Recipient: email,
		Subject:   "Verify your subscription",
		HTMLBody:  body,
	}})
	if len(results) == 1 && results[0].Err != nil {
		return fmt.Errorf("send verification email: %w", results[0].Err)
	}
	return nil
}

// Verify consumes a verification token and sends the welcome email. The
// welcome send is best-effort; the verification itself has already
// committed.
func (s *Service) Verify(ctx context.Context, verifyToken string) (pipeline.Subscriber, error) {
	sub, err := s.subscribers.ConsumeVerificationToken(ctx, verifyToken)
	if err != nil {
		return pipeline.Subscriber{}, err
	}
	s.logger.Info("subscriber verified", zap.Int64("subscriber_id", sub.ID))

	body, err := renderWelcome(s.appURL, sub.UnsubscribeToken)
	if err != nil {
		s.logger.Error("welcome render failed", zap.Error(err))
		return sub, nil
	}
	results := s.mailer.SendBatch(ctx, []pipeline.Message{{
		Recipient: sub.Email,
		Subject:   "Welcome to the data center monitor",
		HTMLBody:  body,
	}})
	if len(results) == 1 && results[0].Err != nil {
		s.logger.Warn("welcome email failed",
			zap.Int64("subscriber_id", sub.ID), zap.Error(results[0].Err))
	}
	return sub, nil
}

// Unsubscribe deactivates the subscriber holding the permanent token.
func (s *Service) Unsubscribe(ctx context.Context, unsubToken string) (pipeline.Subscriber, error) {
	sub, err := s.subscribers.Deactivate(ctx, unsubToken)
	if err != nil {
		return pipeline.Subscriber{}, err
	}
	s.logger.Info("subscriber deactivated", zap.Int64("subscriber_id", sub.ID))
	return sub, nil
}
