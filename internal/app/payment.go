/**
 * @description
 * This file defines the payment method registry. Each method knows how to start a
 * payment attempt for an admitted subscription: the processor method creates a hosted
 * checkout and records its correlation token, the deposit method hands out transfer
 * instructions, and the manual method leaves settlement to staff.
 *
 * @notes
 * - The registry is populated once at startup and read-only afterwards.
 * - Begin creates or reuses the open transaction for its method; closing transactions
 *   is reconciliation's job.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/internal/store"
	"github.com/esupa/admission-service/pkg/processorclient"
)

// ErrUnknownPayMethod is returned when a payment is started with a method code the
// registry does not hold.
var ErrUnknownPayMethod = errors.New("unknown payment method")

// PaymentInstruction tells the caller how to complete a started payment attempt.
type PaymentInstruction struct {
	Method        domain.PayMethod `json:"method"`
	TransactionID int64            `json:"transaction_id"`
	Amount        int64            `json:"amount"`
	RedirectURL   string           `json:"redirect_url,omitempty"`
	Instructions  string           `json:"instructions,omitempty"`
}

// PaymentMethod starts payment attempts of one kind.
type PaymentMethod interface {
	Code() domain.PayMethod
	Title() string
	Begin(ctx context.Context, repo store.Repository, event *domain.Event, sub *domain.Subscription, amount int64) (*PaymentInstruction, error)
}

// PaymentRegistry maps method codes to their implementations.
type PaymentRegistry struct {
	methods map[domain.PayMethod]PaymentMethod
}

// NewPaymentRegistry builds a registry from the given methods.
func NewPaymentRegistry(methods ...PaymentMethod) *PaymentRegistry {
	m := make(map[domain.PayMethod]PaymentMethod, len(methods))
	for _, method := range methods {
		m[method.Code()] = method
	}
	return &PaymentRegistry{methods: m}
}

// Get returns the method registered under code.
func (r *PaymentRegistry) Get(code domain.PayMethod) (PaymentMethod, error) {
	method, ok := r.methods[code]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPayMethod, code)
	}
	return method, nil
}

// openOrCreateTransaction reuses the subscription's open transaction of one method or
// creates a fresh one for the given amount.
func openOrCreateTransaction(ctx context.Context, repo store.Repository, sub *domain.Subscription, method domain.PayMethod, amount int64) (*domain.Transaction, error) {
	tx, err := repo.FindOpenTransaction(ctx, sub.ID, method)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, err
	}
	tx = &domain.Transaction{
		SubscriptionID: sub.ID,
		Amount:         amount,
		Method:         method,
	}
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ManualMethod records payment attempts settled directly by staff.
type ManualMethod struct{}

func (ManualMethod) Code() domain.PayMethod { return domain.MethodManual }
func (ManualMethod) Title() string          { return "Manual" }

func (ManualMethod) Begin(ctx context.Context, repo store.Repository, event *domain.Event, sub *domain.Subscription, amount int64) (*PaymentInstruction, error) {
	tx, err := openOrCreateTransaction(ctx, repo, sub, domain.MethodManual, amount)
	if err != nil {
		return nil, err
	}
	return &PaymentInstruction{
		Method:        domain.MethodManual,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Instructions:  "pay at the event desk and present your badge name",
	}, nil
}

// DepositMethod starts bank deposit payment attempts. The payer later uploads proof,
// which staff verify.
type DepositMethod struct{}

func (DepositMethod) Code() domain.PayMethod { return domain.MethodDeposit }
func (DepositMethod) Title() string          { return "Bank deposit" }

func (DepositMethod) Begin(ctx context.Context, repo store.Repository, event *domain.Event, sub *domain.Subscription, amount int64) (*PaymentInstruction, error) {
	tx, err := openOrCreateTransaction(ctx, repo, sub, domain.MethodDeposit, amount)
	if err != nil {
		return nil, err
	}
	return &PaymentInstruction{
		Method:        domain.MethodDeposit,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Instructions:  event.DepositInfo,
	}, nil
}

// ProcessorMethod starts hosted checkout payment attempts with the external payment
// processor.
type ProcessorMethod struct {
	client *processorclient.Client
}

// NewProcessorMethod creates a ProcessorMethod backed by the given client.
func NewProcessorMethod(client *processorclient.Client) *ProcessorMethod {
	return &ProcessorMethod{client: client}
}

func (*ProcessorMethod) Code() domain.PayMethod { return domain.MethodProcessor }
func (*ProcessorMethod) Title() string          { return "Payment processor" }

func (m *ProcessorMethod) Begin(ctx context.Context, repo store.Repository, event *domain.Event, sub *domain.Subscription, amount int64) (*PaymentInstruction, error) {
	tx, err := openOrCreateTransaction(ctx, repo, sub, domain.MethodProcessor, amount)
	if err != nil {
		return nil, err
	}

	// The reference ties processor callbacks back to this transaction. An attempt
	// that already holds one keeps it so retries reuse the same checkout identity.
	if tx.RemoteID == nil {
		reference := uuid.New().String()
		checkout, err := m.client.CreateCheckout(ctx, reference, fmt.Sprintf("%s: %s", event.Name, sub.Badge), tx.Amount)
		if err != nil {
			return nil, fmt.Errorf("create checkout: %w", err)
		}
		tx.RemoteID = &reference
		tx.AppendNote(timeNow(), "checkout created, code "+checkout.Code)
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			return nil, err
		}
		return &PaymentInstruction{
			Method:        domain.MethodProcessor,
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			RedirectURL:   checkout.RedirectURL,
		}, nil
	}

	checkout, err := m.client.CreateCheckout(ctx, *tx.RemoteID, fmt.Sprintf("%s: %s", event.Name, sub.Badge), tx.Amount)
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	return &PaymentInstruction{
		Method:        domain.MethodProcessor,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		RedirectURL:   checkout.RedirectURL,
	}, nil
}
