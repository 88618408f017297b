// Package stripe adapts the Stripe API to the escrow flow: charges go to
// the platform account and caregivers are paid later with a transfer to
// their Connect account ("separate charges and transfers").
package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Event types the service reacts to.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventAccountUpdated   = "account.updated"
)

type IntentSession struct {
	ID           string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type IntentRequest struct {
	BookingID      string
	Amount         int64
	Currency       string
	Description    string
	IdempotencyKey string
}

type TransferRequest struct {
	BookingID   string
	Destination string
	Amount      int64
	Currency    string
	// SourceCharge ties the transfer to the booking's charge so it can go
	// out before that charge settles into the available balance.
	SourceCharge   string
	IdempotencyKey string
}

type RefundRequest struct {
	BookingID       string
	PaymentIntentID string
	IdempotencyKey  string
}

type Refund struct {
	RefundID string
	Amount   int64
}

type Payout struct {
	TransferID string
	Amount     int64
}

type ConnectAccount struct {
	ID               string `json:"accountId"`
	PayoutsEnabled   bool   `json:"payoutsEnabled"`
	DetailsSubmitted bool   `json:"detailsSubmitted"`
}

// WebhookEvent is the part of a Stripe event the service needs.
type WebhookEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
	ChargeID        string
	BookingID       string
	AccountID       string
	PayoutsEnabled  bool
}

// Client wraps the Stripe API client.
type Client struct {
	api           *client.API
	webhookSecret string
}

func New(secretKey, webhookSecret string) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{api: api, webhookSecret: webhookSecret}
}

// CreatePaymentIntent charges the parent into the platform balance. The
// transfer group ties the later payout to the same booking.
func (c *Client) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentSession, error) {
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(req.Amount),
		Currency:      stripego.String(req.Currency),
		Description:   stripego.String(req.Description),
		TransferGroup: stripego.String(req.BookingID),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &IntentSession{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// Transfer moves funds from the platform balance to a connected account.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Payout, error) {
	params := &stripego.TransferParams{
		Amount:        stripego.Int64(req.Amount),
		Currency:      stripego.String(req.Currency),
		Destination:   stripego.String(req.Destination),
		TransferGroup: stripego.String(req.BookingID),
	}
	if req.SourceCharge != "" {
		params.SourceTransaction = stripego.String(req.SourceCharge)
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	tr, err := c.api.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	return &Payout{TransferID: tr.ID, Amount: tr.Amount}, nil
}

// CancelPaymentIntent voids an intent that has not been captured. Stripe
// refuses once the charge has succeeded.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) error {
	params := &stripego.PaymentIntentCancelParams{
		CancellationReason: stripego.String("requested_by_customer"),
	}
	params.Context = ctx
	if _, err := c.api.PaymentIntents.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel payment intent: %w", err)
	}
	return nil
}

// Refund returns the full captured amount of an intent to the parent.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.PaymentIntentID),
		Reason:        stripego.String("requested_by_customer"),
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &Refund{RefundID: r.ID, Amount: r.Amount}, nil
}

// CreateConnectAccount opens an Express account for an Australian caregiver.
func (c *Client) CreateConnectAccount(ctx context.Context, email string) (*ConnectAccount, error) {
	params := &stripego.AccountParams{
		Type:    stripego.String(string(stripego.AccountTypeExpress)),
		Country: stripego.String("AU"),
		Email:   stripego.String(email),
		Capabilities: &stripego.AccountCapabilitiesParams{
			Transfers: &stripego.AccountCapabilitiesTransfersParams{Requested: stripego.Bool(true)},
		},
	}
	params.Context = ctx

	acct, err := c.api.Accounts.New(params)
	if err != nil {
		return nil, fmt.Errorf("create connect account: %w", err)
	}
	return toAccount(acct), nil
}

func (c *Client) OnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripego.AccountLinkParams{
		Account:    stripego.String(accountID),
		RefreshURL: stripego.String(refreshURL),
		ReturnURL:  stripego.String(returnURL),
		Type:       stripego.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := c.api.AccountLinks.New(params)
	if err != nil {
		return "", fmt.Errorf("create account link: %w", err)
	}
	return link.URL, nil
}

func (c *Client) GetConnectAccount(ctx context.Context, accountID string) (*ConnectAccount, error) {
	params := &stripego.AccountParams{}
	params.Context = ctx
	acct, err := c.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, fmt.Errorf("get connect account: %w", err)
	}
	return toAccount(acct), nil
}

func toAccount(a *stripego.Account) *ConnectAccount {
	return &ConnectAccount{
		ID:               a.ID,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
	}
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// fields of interest.
func (c *Client) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	return decodeEvent(evt)
}

func decodeEvent(evt stripego.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}
	switch out.Type {
	case EventPaymentSucceeded:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntentID = pi.ID
		out.BookingID = pi.Metadata["booking_id"]
		if pi.LatestCharge != nil {
			out.ChargeID = pi.LatestCharge.ID
		}
	case EventAccountUpdated:
		var acct stripego.Account
		if err := json.Unmarshal(evt.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		out.AccountID = acct.ID
		out.PayoutsEnabled = acct.PayoutsEnabled
	}
	return out, nil
}
