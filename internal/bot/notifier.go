// Package bot delivers user notifications through Telegram.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"tunnel-billing/internal/models"
)

const sendTimeout = 10 * time.Second

type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

// Notifier sends messages to users who linked a Telegram chat. Delivery runs
// in the background and never fails the caller.
type Notifier struct {
	sender Sender
	users  UserLookup
	log    logrus.FieldLogger
	wg     sync.WaitGroup
}

func NewTelegramNotifier(token string, users UserLookup, log logrus.FieldLogger) (*Notifier, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewNotifier(tgBot, users, log), nil
}

func NewNotifier(sender Sender, users UserLookup, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		sender: sender,
		users:  users,
		log:    log.WithField("component", "notifier"),
	}
}

func (n *Notifier) Notify(ctx context.Context, userID uint, message string) {
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		if err := n.send(ctx, userID, message); err != nil {
			n.log.WithError(err).WithField("user_id", userID).Warn("failed to send notification")
		}
	}()
}

func (n *Notifier) send(ctx context.Context, userID uint, message string) error {
	user, err := n.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.TelegramChatID == nil {
		return nil
	}

	_, err = n.sender.SendMessage(ctx, tu.Message(tu.ID(*user.TelegramChatID), message))
	return err
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Noop discards notifications. Used when no bot token is configured.
type Noop struct{}

func (Noop) Notify(context.Context, uint, string) {}
