package app

import (
	"context"
	"errors"
	"testing"

	"github.com/esupa/admission-service/internal/domain"
)

func TestPaymentRegistry_UnknownMethod(t *testing.T) {
	registry := NewPaymentRegistry(ManualMethod{})

	if _, err := registry.Get(domain.MethodManual); err != nil {
		t.Fatalf("expected registered method, got %v", err)
	}
	if _, err := registry.Get(domain.MethodProcessor); !errors.Is(err, ErrUnknownPayMethod) {
		t.Fatalf("expected ErrUnknownPayMethod, got %v", err)
	}
}

func TestDepositMethod_BeginCarriesInstructions(t *testing.T) {
	repo := newFakeRepo()
	event := testEvent()
	event.DepositInfo = "Bank 001, branch 1234, account 56789-0"
	sub := domain.Subscription{ID: 100, EventID: 1, State: domain.StateExpectingPay}
	repo.addSub(sub)

	instruction, err := DepositMethod{}.Begin(context.Background(), repo, &event, &sub, 10000)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if instruction.Instructions != event.DepositInfo {
		t.Fatalf("expected deposit instructions, got %q", instruction.Instructions)
	}
	if instruction.Amount != 10000 {
		t.Fatalf("expected amount 10000, got %d", instruction.Amount)
	}
	if _, ok := repo.txs[instruction.TransactionID]; !ok {
		t.Fatal("expected a persisted open transaction")
	}
}

func TestDepositMethod_BeginReusesOpenAttempt(t *testing.T) {
	repo := newFakeRepo()
	event := testEvent()
	sub := domain.Subscription{ID: 100, EventID: 1, State: domain.StateExpectingPay}
	repo.addSub(sub)
	repo.addTx(domain.Transaction{ID: 9, SubscriptionID: 100, Amount: 7000, Method: domain.MethodDeposit})

	instruction, err := DepositMethod{}.Begin(context.Background(), repo, &event, &sub, 10000)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if instruction.TransactionID != 9 {
		t.Fatalf("expected reuse of open attempt 9, got %d", instruction.TransactionID)
	}
	if instruction.Amount != 7000 {
		t.Fatalf("expected original attempt amount, got %d", instruction.Amount)
	}
	if len(repo.txs) != 1 {
		t.Fatalf("expected no new transaction, got %d", len(repo.txs))
	}
}

func TestManualMethod_BeginOpensAttempt(t *testing.T) {
	repo := newFakeRepo()
	event := testEvent()
	sub := domain.Subscription{ID: 100, EventID: 1, State: domain.StateExpectingPay}
	repo.addSub(sub)

	instruction, err := ManualMethod{}.Begin(context.Background(), repo, &event, &sub, 10000)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if instruction.Method != domain.MethodManual {
		t.Fatalf("expected manual method, got %s", instruction.Method)
	}
	stored := repo.txs[instruction.TransactionID]
	if stored == nil || stored.EndedAt != nil {
		t.Fatal("expected a persisted open transaction")
	}
}
