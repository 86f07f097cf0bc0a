package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"go.uber.org/zap"

	"github.com/teamloop/backend/config"
	"github.com/teamloop/backend/pkg/queue"
)

// EmailProcessor processes invite email jobs: render the invite message and
// send it over SMTP. When no SMTP host is configured the message is logged
// instead, which is the development-mode behavior.
type EmailProcessor struct {
	cfg    config.EmailConfig
	queue  *queue.Queue
	logger *zap.Logger
}

// NewEmailProcessor creates an invite email processor.
func NewEmailProcessor(cfg config.EmailConfig, q *queue.Queue, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{cfg: cfg, queue: q, logger: logger}
}

// Process executes one invite email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeInviteEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.InviteEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	subject := fmt.Sprintf("You have been invited to join %s", payload.OrganizationName)
	acceptURL := fmt.Sprintf("%s/accept-invite?token=%s", p.cfg.AppBaseURL, payload.InviteToken)
	body := fmt.Sprintf(
		"You have been invited to join %s.\r\n\r\nAccept the invite here: %s\r\n\r\nThis invite expires at %s.\r\n",
		payload.OrganizationName, acceptURL, payload.ExpiresAt.Format(time.RFC1123),
	)

	if p.cfg.SMTPHost == "" {
		p.logger.Info("invite email (smtp disabled)",
			zap.String("to", payload.RecipientEmail),
			zap.String("accept_url", acceptURL))
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		p.cfg.FromAddress, payload.RecipientEmail, subject, body)
	addr := fmt.Sprintf("%s:%d", p.cfg.SMTPHost, p.cfg.SMTPPort)
	var auth smtp.Auth
	if p.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", p.cfg.SMTPUsername, p.cfg.SMTPPassword, p.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, p.cfg.FromAddress, []string{payload.RecipientEmail}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	p.logger.Info("invite email sent",
		zap.String("job_id", job.ID),
		zap.String("to", payload.RecipientEmail))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
