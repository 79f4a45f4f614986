// Package mail sends the operator notification e-mails spec.md §9 calls
// for (job failure, job recovery, critical error), grounded in the
// original implementation's eva/mail/__init__.py Mailer/NullMailer over
// net/smtp since no third-party mail client appears anywhere in the
// retrieved pack.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"
)

const masterSubject = "relay %s: %s"

const masterText = `Hi,

%s

Best regards,
The relay automatic mailer`

// JobFailText is the body template for a first job failure notification.
const JobFailText = `I'm sorry to inform you that your job has failed. Your job will be retried, and
you will get an e-mail as soon as the job succeeds.

Note that you will not receive e-mails about further failures of this event.

Job ID:        %s
Adapter:       %s
Failure count: %d
Job status:    %s
`

// JobRecoverText is the body template for a job recovery notification.
const JobRecoverText = `Your previously failing job has finally succeeded.

Job ID:        %s
Adapter:       %s
Failure count: %d
Job status:    %s
`

// CriticalErrorText is the body template for a critical-error notification.
const CriticalErrorText = `I'm terribly sorry, but relay has encountered a critical error which caused the loop to stop.

%s
`

// Sender delivers an e-mail notification to a fixed or overridden
// recipient list.
type Sender interface {
	SendEmail(recipients []string, subject, body string) error
}

// SMTPSender sends e-mail over net/smtp.
type SMTPSender struct {
	GroupID    string
	SMTPHost   string
	MailFrom   string
	Recipients []string
}

// NewSMTPSender builds an SMTPSender. If recipients is non-empty, it
// overrides the recipient list passed to every SendEmail call, matching
// the original's override-list behaviour.
func NewSMTPSender(groupID, smtpHost, mailFrom string, recipients []string) *SMTPSender {
	return &SMTPSender{
		GroupID:    groupID,
		SMTPHost:   smtpHost,
		MailFrom:   mailFrom,
		Recipients: recipients,
	}
}

// SendEmail sends subject/body to recipients (or the configured override
// list, if set).
func (s *SMTPSender) SendEmail(recipients []string, subject, body string) error {
	if len(s.Recipients) > 0 {
		recipients = s.Recipients
	}
	if len(recipients) == 0 {
		return fmt.Errorf("mail: no recipients configured")
	}

	fullSubject := fmt.Sprintf(masterSubject, s.GroupID, subject)
	fullBody := fmt.Sprintf(masterText, body)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.MailFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", fullSubject)
	msg.WriteString("\r\n")
	msg.WriteString(fullBody)

	return smtp.SendMail(s.SMTPHost, nil, s.MailFrom, recipients, []byte(msg.String()))
}

var _ Sender = (*SMTPSender)(nil)

// NullSender is a no-op Sender used when no SMTP host is configured.
type NullSender struct{}

// SendEmail is a no-op.
func (NullSender) SendEmail(_ []string, _, _ string) error { return nil }

var _ Sender = (*NullSender)(nil)
