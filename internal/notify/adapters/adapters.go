// Package adapters holds the channel adapters the worker delivers through.
// The log adapters mirror what the marketplace does in environments without
// a real provider: the rendered message lands in the structured log.
package adapters

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type LogEmail struct{}

func (LogEmail) Send(ctx context.Context, to, subject, body string) (string, error) {
	ref := "email-" + uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"to":           to,
		"subject":      subject,
		"body":         body,
		"provider_ref": ref,
	}).Info("email delivered")
	return ref, nil
}

type LogSMS struct{}

func (LogSMS) Send(ctx context.Context, to, subject, body string) (string, error) {
	ref := "sms-" + uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"to":           to,
		"body":         body,
		"provider_ref": ref,
	}).Info("sms delivered")
	return ref, nil
}
