package notification

import (
	"context"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/shared/config"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

const sendTimeout = 15 * time.Second

// Service delivers notifications. A nil config or missing token turns
// the matching sink into a no-op, so callers never need to check whether
// notifications are configured.
type Service struct {
	cfg    config.NotificationConfig
	logger logger.Interface
}

func NewService(cfg config.NotificationConfig, logger logger.Interface) *Service {
	return &Service{cfg: cfg, logger: logger}
}

func (s *Service) dispatch(sink string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Errorw("failed to deliver notification", "sink", sink, "error", err)
		}
	}()
}

// system sends to the operator channel from the config.
func (s *Service) system(text string) {
	if s.cfg.TelegramToken == "" || s.cfg.TelegramChatID == "" {
		return
	}
	s.dispatch("system", func(ctx context.Context) error {
		return sendTelegram(ctx, s.cfg.TelegramToken, s.cfg.TelegramChatID, s.cfg.TelegramTopic, text)
	})
	if s.cfg.DiscordWebhook != "" {
		s.dispatch("system-discord", func(ctx context.Context) error {
			return sendDiscord(ctx, s.cfg.DiscordWebhook, text)
		})
	}
}

// send delivers to the system channel plus the owner's own sinks when
// configured.
func (s *Service) send(text string, owner *admin.Admin) {
	s.system(text)
	if owner == nil {
		return
	}
	if owner.TelegramStatus && owner.TelegramToken != nil && owner.TelegramChatID() != "" {
		token := *owner.TelegramToken
		chatID := owner.TelegramChatID()
		topicID := ""
		if owner.TelegramTopicID != nil {
			topicID = *owner.TelegramTopicID
		}
		s.dispatch("owner-telegram", func(ctx context.Context) error {
			return sendTelegram(ctx, token, chatID, topicID, text)
		})
	}
	if owner.DiscordWebhookStatus && owner.DiscordWebhookURL != nil && *owner.DiscordWebhookURL != "" {
		webhook := *owner.DiscordWebhookURL
		s.dispatch("owner-discord", func(ctx context.Context) error {
			return sendDiscord(ctx, webhook, text)
		})
	}
}

// sendToSubscription delivers straight to the subscriber when the owner
// allows subscriber notifications.
func (s *Service) sendToSubscription(text string, sub *subscription.Subscription) {
	if sub.Owner == nil {
		return
	}
	if sub.TelegramID != nil && *sub.TelegramID != "" &&
		sub.Owner.TelegramSendSubscriptions && sub.Owner.TelegramToken != nil {
		token := *sub.Owner.TelegramToken
		chatID := *sub.TelegramID
		s.dispatch("subscriber-telegram", func(ctx context.Context) error {
			return sendTelegram(ctx, token, chatID, "", text)
		})
	}
	if sub.DiscordWebhookURL != nil && *sub.DiscordWebhookURL != "" && sub.Owner.DiscordSendSubscriptions {
		webhook := *sub.DiscordWebhookURL
		s.dispatch("subscriber-discord", func(ctx context.Context) error {
			return sendDiscord(ctx, webhook, text)
		})
	}
}
