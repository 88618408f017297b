package pay

import (
	"context"
	"time"

	"nannynest/models"
	"nannynest/mq"
	"nannynest/stripe"

	"go.uber.org/zap"
)

// ConnectProvider manages caregivers' Stripe Connect accounts.
type ConnectProvider interface {
	CreateConnectAccount(ctx context.Context, email string) (*stripe.ConnectAccount, error)
	OnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	GetConnectAccount(ctx context.Context, accountID string) (*stripe.ConnectAccount, error)
}

// PayoutAccounts also tracks whether Stripe lets an account receive payouts.
type PayoutAccounts interface {
	Accounts
	GetByPayoutAccount(ctx context.Context, accountID string) (*models.User, error)
	SetPayoutsEnabled(ctx context.Context, id string, enabled bool) error
}

type Onboarding struct {
	connect     ConnectProvider
	accounts    PayoutAccounts
	events      mq.Publisher
	frontendURL string
	log         *zap.Logger
}

func NewOnboarding(connect ConnectProvider, accounts PayoutAccounts, events mq.Publisher, frontendURL string, log *zap.Logger) *Onboarding {
	return &Onboarding{connect: connect, accounts: accounts, events: events, frontendURL: frontendURL, log: log.Named("connect")}
}

// Start returns an onboarding link, creating the connected account on
// first use.
func (o *Onboarding) Start(ctx context.Context, userID string) (accountID, url string, err error) {
	u, err := o.accounts.GetByID(ctx, userID)
	if err != nil {
		return "", "", err
	}
	accountID = u.PayoutAccountID
	if accountID == "" {
		acct, err := o.connect.CreateConnectAccount(ctx, u.Email)
		if err != nil {
			return "", "", err
		}
		accountID = acct.ID
		if err := o.accounts.SetPayoutAccount(ctx, userID, accountID); err != nil {
			return "", "", err
		}
		o.log.Info("connect account created", zap.String("user_id", userID), zap.String("account_id", accountID))
	}

	url, err = o.connect.OnboardingLink(ctx, accountID,
		o.frontendURL+"/caregiver/payouts?refresh=1",
		o.frontendURL+"/caregiver/payouts?done=1")
	if err != nil {
		return "", "", err
	}
	return accountID, url, nil
}

// Status reports whether the caregiver can receive payouts.
func (o *Onboarding) Status(ctx context.Context, userID string) (*stripe.ConnectAccount, error) {
	u, err := o.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.PayoutAccountID == "" {
		return &stripe.ConnectAccount{}, nil
	}
	return o.connect.GetConnectAccount(ctx, u.PayoutAccountID)
}

// AccountUpdated records payout readiness from an account.updated webhook.
// The caregiver is told once, when payouts first switch on.
func (o *Onboarding) AccountUpdated(ctx context.Context, accountID string, payoutsEnabled bool) error {
	u, err := o.accounts.GetByPayoutAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if u.PayoutsEnabled == payoutsEnabled {
		return nil
	}
	if err := o.accounts.SetPayoutsEnabled(ctx, u.ID, payoutsEnabled); err != nil {
		return err
	}
	o.log.Info("payout readiness changed",
		zap.String("user_id", u.ID),
		zap.String("account_id", accountID),
		zap.Bool("payouts_enabled", payoutsEnabled))
	if !payoutsEnabled || o.events == nil {
		return nil
	}
	err = o.events.Publish(ctx, mq.TopicNotify, mq.Event{
		Name:       mq.PayoutsEnabled,
		Recipient:  u.ID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		o.log.Warn("notify publish failed", zap.String("event", mq.PayoutsEnabled), zap.Error(err))
	}
	return nil
}
