package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

func newEvent(id string) *domain.FeeEvent {
	return &domain.FeeEvent{
		ID:             id,
		PartyID:        "P1",
		Currency:       "USD",
		ComputedAmount: decimal.RequireFromString("10"),
		Status:         domain.FeeEventStatusAccrued,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSaveComparesVersion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	repo := s.FeeEvents()

	e := newEvent("FE1")
	if err := repo.Save(ctx, e); err != nil {
		t.Fatal(err)
	}
	if e.Version != 1 {
		t.Fatalf("version = %d", e.Version)
	}

	a, _ := repo.Get(ctx, "FE1")
	b, _ := repo.Get(ctx, "FE1")
	a.Status = domain.FeeEventStatusVoided
	if err := repo.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	b.Status = domain.FeeEventStatusWaived
	if err := repo.Save(ctx, b); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("stale save = %v", err)
	}

	if err := repo.Save(ctx, newEvent("FE1")); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Errorf("duplicate create = %v", err)
	}
	ghost := newEvent("FE9")
	ghost.Version = 3
	if err := repo.Save(ctx, ghost); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update of missing = %v", err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	e := newEvent("FE1")
	_ = s.FeeEvents().Save(ctx, e)

	e.Status = domain.FeeEventStatusPaid
	got, _ := s.FeeEvents().Get(ctx, "FE1")
	if got.Status != domain.FeeEventStatusAccrued {
		t.Fatalf("stored value aliased caller's pointer: %s", got.Status)
	}
	got.Status = domain.FeeEventStatusVoided
	again, _ := s.FeeEvents().Get(ctx, "FE1")
	if again.Status != domain.FeeEventStatusAccrued {
		t.Fatalf("read aliased stored value: %s", again.Status)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.FeeEvents().Save(ctx, newEvent("FE1")); err != nil {
			return err
		}
		// 事务内嵌套调用复用同一事务
		if err := s.WithTx(ctx, func(ctx context.Context) error {
			return s.FeeEvents().Save(ctx, newEvent("FE2"))
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.FeeEvents().Get(ctx, "FE1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FE1 survived rollback: %v", err)
	}
	if _, err := s.FeeEvents().Get(ctx, "FE2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FE2 survived rollback: %v", err)
	}
}

func TestListByIDsKeepsOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for _, id := range []string{"FE1", "FE2", "FE3"} {
		_ = s.FeeEvents().Save(ctx, newEvent(id))
	}
	got, err := s.FeeEvents().ListByIDs(ctx, []string{"FE3", "FE1"})
	if err != nil || len(got) != 2 || got[0].ID != "FE3" || got[1].ID != "FE1" {
		t.Fatalf("got %v, %v", got, err)
	}
	if _, err := s.FeeEvents().ListByIDs(ctx, []string{"FE1", "FE404"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id = %v", err)
	}
}
