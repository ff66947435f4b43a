// Package billing keeps a user's local subscription rows in step with the
// payment provider when a plan is assigned.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tunnel-billing/internal/apperr"
	"tunnel-billing/internal/models"
	"tunnel-billing/internal/payment"
	"tunnel-billing/internal/store"
)

type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetPlan(ctx context.Context, id uint) (*models.Plan, error)
	CurrentSubscription(ctx context.Context, userID uint) (*models.UserSubscription, error)
	GetSubscriptionWithPlan(ctx context.Context, id uint) (*models.UserSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.UserSubscription) error
	SaveSubscription(ctx context.Context, sub *models.UserSubscription) error
	SetSubscriptionStatus(ctx context.Context, id uint, status string) error
}

type PaymentProvider interface {
	CreateSubscription(ctx context.Context, customerID, priceID string) (*payment.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID, itemID, priceID string) (*payment.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

type Notifier interface {
	Notify(ctx context.Context, userID uint, message string)
}

type Options struct {
	Locker   Locker
	Notifier Notifier
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

type Service struct {
	repo     Repository
	payments PaymentProvider
	locker   Locker
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

// Profile is the user together with their current subscription.
type Profile struct {
	User        *models.User
	CurrentPlan *models.UserSubscription
}

func NewService(repo Repository, payments PaymentProvider, opts Options) *Service {
	s := &Service{
		repo:     repo,
		payments: payments,
		locker:   opts.Locker,
		notifier: opts.Notifier,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("component", "billing")
	if s.locker == nil {
		s.locker = noopLocker{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// AssignPlan moves the user onto planID at the payment provider and mirrors
// the result locally. A current subscription with a remote item is changed in
// place; otherwise a new remote subscription is created and recorded.
//
// Nothing is written locally when the provider call fails. If recording a new
// remote subscription fails, the remote subscription is cancelled.
func (s *Service) AssignPlan(ctx context.Context, userID, planID uint) (*models.UserSubscription, error) {
	if userID == 0 {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	if planID == 0 {
		return nil, apperr.Validation("planId", "Plan id is required")
	}

	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("plan", "Plan not found")
		}
		return nil, apperr.Storage("Error while loading plan", err)
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user", "User not found")
		}
		return nil, apperr.Storage("Error while loading user", err)
	}
	if !user.HasPaymentCustomer() {
		return nil, apperr.Precondition("user", "User does not have a Stripe customer ID")
	}

	unlock, err := s.locker.Lock(ctx, assignPlanLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.CurrentSubscription(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Storage("Error while loading current subscription", err)
	}

	log := s.log.WithFields(logrus.Fields{"user_id": userID, "plan_id": plan.ID})

	var subID uint
	if current != nil && current.HasRemoteItem() {
		subID, err = s.changePlan(ctx, current, plan)
	} else {
		subID, err = s.subscribe(ctx, user, plan, current, log)
	}
	if err != nil {
		return nil, err
	}

	result, err := s.repo.GetSubscriptionWithPlan(ctx, subID)
	if err != nil {
		log.WithError(err).WithField("subscription_id", subID).
			Error("plan assigned but subscription reload failed")
		return nil, apperr.Internal("Error while loading subscription", err)
	}

	log.WithField("subscription_id", subID).Info("plan assigned")
	s.notify(ctx, userID, fmt.Sprintf("Your plan is now %s.", plan.Name))
	return result, nil
}

func (s *Service) changePlan(ctx context.Context, current *models.UserSubscription, plan *models.Plan) (uint, error) {
	remote, err := s.payments.UpdateSubscription(ctx, current.StripeSubscriptionID, *current.StripeSubscriptionItemID, plan.StripePriceID)
	if err != nil {
		return 0, apperr.PaymentProvider("Error while updating Stripe subscription", err)
	}

	itemID := remote.ItemID
	current.PlanID = plan.ID
	current.Plan = nil
	current.StripePriceID = plan.StripePriceID
	current.StripeSubscriptionID = remote.ID
	current.StripeSubscriptionItemID = &itemID
	current.Status = models.SubscriptionStatusActive
	current.ActivatedAt = s.now()
	current.CancelRequestedAt = nil
	current.EffectiveCancelDate = nil

	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		return s.repo.SaveSubscription(ctx, current)
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"subscription_id":        current.ID,
			"stripe_subscription_id": remote.ID,
		}).Error("stripe subscription updated but local save failed")
		return 0, apperr.Storage("Error while saving subscription", err)
	}
	return current.ID, nil
}

func (s *Service) subscribe(ctx context.Context, user *models.User, plan *models.Plan, stale *models.UserSubscription, log logrus.FieldLogger) (uint, error) {
	remote, err := s.payments.CreateSubscription(ctx, *user.StripeCustomerID, plan.StripePriceID)
	if err != nil {
		return 0, apperr.PaymentProvider("Error while creating Stripe subscription", err)
	}

	itemID := remote.ItemID
	sub := &models.UserSubscription{
		UserID:                   user.ID,
		PlanID:                   plan.ID,
		StripePriceID:            plan.StripePriceID,
		StripeSubscriptionID:     remote.ID,
		StripeSubscriptionItemID: &itemID,
		Status:                   models.SubscriptionStatusActive,
		ActivatedAt:              s.now(),
	}

	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		// A current row without a remote item cannot be changed in place.
		if stale != nil {
			if err := s.repo.SetSubscriptionStatus(ctx, stale.ID, models.SubscriptionStatusInactive); err != nil {
				return err
			}
		}
		return s.repo.CreateSubscription(ctx, sub)
	})
	if err != nil {
		log = log.WithError(err).WithField("stripe_subscription_id", remote.ID)
		if cancelErr := s.payments.CancelSubscription(context.WithoutCancel(ctx), remote.ID); cancelErr != nil {
			log.WithField("cancel_error", cancelErr.Error()).
				Error("local insert failed and stripe subscription could not be cancelled")
		} else {
			log.Warn("local insert failed, stripe subscription cancelled")
		}
		return 0, apperr.Storage("Error while saving subscription", err)
	}

	// The replaced row is inactive locally; its remote subscription must not
	// keep billing.
	if stale != nil && stale.StripeSubscriptionID != "" && stale.StripeSubscriptionID != remote.ID {
		staleLog := log.WithFields(logrus.Fields{
			"subscription_id":        stale.ID,
			"stripe_subscription_id": stale.StripeSubscriptionID,
		})
		if err := s.payments.CancelSubscription(context.WithoutCancel(ctx), stale.StripeSubscriptionID); err != nil {
			staleLog.WithError(err).Error("replaced stripe subscription could not be cancelled")
		} else {
			staleLog.Info("replaced stripe subscription cancelled")
		}
	}
	return sub.ID, nil
}

// Profile returns the user and their current subscription.
func (s *Service) Profile(ctx context.Context, userID uint) (*Profile, error) {
	if userID == 0 {
		return nil, apperr.Unauthorized("Unauthorized")
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user", "User not found")
		}
		return nil, apperr.Storage("Error while loading user", err)
	}

	current, err := s.repo.CurrentSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user", "User plan not found")
		}
		return nil, apperr.Storage("Error while loading current subscription", err)
	}

	return &Profile{User: user, CurrentPlan: current}, nil
}

func (s *Service) notify(ctx context.Context, userID uint, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, message)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
