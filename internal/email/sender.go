// Copyright 2026 The AuthGrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package email delivers the one-time codes used for verification,
// password reset, and login.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// Code purposes.
const (
	PurposeVerification  = "verification"
	PurposePasswordReset = "password_reset"
	PurposeLogin         = "login"
)

// Sender delivers a one-time code to an address.
type Sender interface {
	SendCode(ctx context.Context, to, code, purpose string) error
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends codes over SMTP.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender connects the mail client.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

var subjects = map[string]string{
	PurposeVerification:  "Verify your email address",
	PurposePasswordReset: "Your password reset code",
	PurposeLogin:         "Your login code",
}

// SendCode sends a plain-text mail carrying the code.
func (s *SMTPSender) SendCode(ctx context.Context, to, code, purpose string) error {
	subject, ok := subjects[purpose]
	if !ok {
		subject = "Your verification code"
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain,
		fmt.Sprintf("Your code is: %s\n\nIt expires in 10 minutes. If you did not request it, ignore this mail.\n", code))

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s mail: %w", purpose, err)
	}
	return nil
}

// LogSender writes codes to the log instead of sending mail. Development
// only; codes in logs are a secret leak anywhere else.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates the development sender.
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

// SendCode logs the code.
func (s *LogSender) SendCode(ctx context.Context, to, code, purpose string) error {
	s.log.InfoContext(ctx, "email code issued",
		slog.String("to", to),
		slog.String("purpose", purpose),
		slog.String("code", code))
	return nil
}
