package providers

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"alert-dispatcher/pkg/telegram"
)

// Sender delivers one rendered message. Implementations must be safe for
// concurrent use by every worker.
type Sender interface {
	Send(ctx context.Context, authToken, destination, message, attachmentPath string) telegram.Result
}

// TelegramProvider throttles outbound Bot API calls across all workers.
type TelegramProvider struct {
	client  Sender
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewTelegramProvider allows ratePerSecond sends per second with an equal
// burst. A non-positive rate disables throttling.
func NewTelegramProvider(client Sender, ratePerSecond int, logger *logrus.Entry) *TelegramProvider {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond)
	}
	return &TelegramProvider{client: client, limiter: limiter, logger: logger}
}

func (p *TelegramProvider) Send(ctx context.Context, authToken, destination, message, attachmentPath string) telegram.Result {
	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Warnf("Telegram rate limiter wait aborted: %v", err)
		return telegram.Result{
			Outcome: telegram.OutcomeTransient,
			Method:  telegram.RouteFor(attachmentPath),
			Detail:  "telegram rate limit wait aborted: " + err.Error(),
		}
	}
	return p.client.Send(ctx, authToken, destination, message, attachmentPath)
}
