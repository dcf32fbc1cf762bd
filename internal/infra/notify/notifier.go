package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
	"mpesa-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ adapter.Notifier = (*Notifier)(nil)

// Notifier fans a completed activation out to its stakeholders: persisted
// in-app notifications for the owner and every admin, an email to the owner,
// and Telegram ops alerts. All channels are best-effort; the activation
// use case swallows whatever this returns.
type Notifier struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	mailer        *Mailer
	bot           *tgbotapi.BotAPI
	adminChatIDs  []int64
	log           *zerolog.Logger
}

func NewNotifier(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	mailer *Mailer,
	bot *tgbotapi.BotAPI,
	adminChatIDs []int64,
	logger *zerolog.Logger,
) *Notifier {
	l := logger.With().Str("component", "Notifier").Logger()
	return &Notifier{
		notifications: notifications,
		users:         users,
		mailer:        mailer,
		bot:           bot,
		adminChatIDs:  adminChatIDs,
		log:           &l,
	}
}

func (n *Notifier) NotifyOwner(ctx context.Context, owner *model.User, ev adapter.ActivationEvent) error {
	if owner == nil {
		return nil
	}
	body := fmt.Sprintf("Your %s subscription is now active. Receipt: %s.", ev.PlanName, ev.Receipt)
	if err := n.notifications.Save(ctx, repository.NoTX, &model.Notification{
		ID:         uuid.NewString(),
		UserID:     owner.ID,
		BusinessID: ev.BusinessID,
		Kind:       model.NotificationKindActivation,
		Title:      "Subscription activated",
		Body:       body,
		CreatedAt:  time.Now(),
	}); err != nil {
		return err
	}

	if n.mailer != nil && n.mailer.Configured() && owner.Email != "" {
		if err := n.mailer.Send(owner.Email, "Subscription activated", body); err != nil {
			// Persisted notification already landed; mail is extra.
			n.log.Warn().Err(err).Str("business_id", ev.BusinessID).Msg("owner activation email failed")
		}
	}
	return nil
}

func (n *Notifier) NotifyAdmins(ctx context.Context, ev adapter.ActivationEvent) error {
	admins, err := n.users.ListAdmins(ctx, repository.NoTX)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("%s activated %s (%d KES, receipt %s)", ev.BusinessName, ev.PlanName, ev.Amount, ev.Receipt)
	for _, admin := range admins {
		if err := n.notifications.Save(ctx, repository.NoTX, &model.Notification{
			ID:         uuid.NewString(),
			UserID:     admin.ID,
			BusinessID: ev.BusinessID,
			Kind:       model.NotificationKindAdminNewActivation,
			Title:      "New subscription",
			Body:       body,
			CreatedAt:  time.Now(),
		}); err != nil {
			n.log.Warn().Err(err).Str("admin_id", admin.ID).Msg("admin notification not persisted")
		}
	}

	n.broadcastTelegram("New subscription: " + body)
	return nil
}

func (n *Notifier) AlertDuplicateActive(ctx context.Context, ev adapter.ActivationEvent) error {
	admins, err := n.users.ListAdmins(ctx, repository.NoTX)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Business %s (%s) now has %d concurrently active subscriptions; latest is %s.",
		ev.BusinessName, ev.BusinessID, ev.DuplicateActive, ev.SubscriptionID)
	for _, admin := range admins {
		if err := n.notifications.Save(ctx, repository.NoTX, &model.Notification{
			ID:         uuid.NewString(),
			UserID:     admin.ID,
			BusinessID: ev.BusinessID,
			Kind:       model.NotificationKindDuplicateActive,
			Title:      "Duplicate active subscription",
			Body:       body,
			CreatedAt:  time.Now(),
		}); err != nil {
			n.log.Warn().Err(err).Str("admin_id", admin.ID).Msg("duplicate alert not persisted")
		}
	}

	n.broadcastTelegram("ALERT: " + body)
	return nil
}

func (n *Notifier) broadcastTelegram(text string) {
	if n.bot == nil {
		return
	}
	for _, chatID := range n.adminChatIDs {
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			n.log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram alert failed")
		}
	}
}
