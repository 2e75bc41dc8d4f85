package project

import (
	"errors"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("webapp", "/src/webapp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("expected pending, got %s", p.Status)
	}
	if p.CreatedAt == "" || p.UpdatedAt == "" {
		t.Error("expected timestamps to be set")
	}

	got, err := s.Get("webapp")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "webapp" || got.Path != "/src/webapp" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("webapp", "/src"); err == nil {
		t.Fatal("expected error for duplicate project")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("ghost"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestTransitionValid(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}

	for _, to := range []Status{StatusDeveloping, StatusReady, StatusDeployed, StatusValidating, StatusDeployed, StatusIntegrated} {
		if err := s.Transition("webapp", to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	p, _ := s.Get("webapp")
	if p.Status != StatusIntegrated {
		t.Errorf("expected integrated, got %s", p.Status)
	}
}

func TestTransitionInvalid(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}

	err := s.Transition("webapp", StatusIntegrated)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Status on disk must be unchanged after a rejected transition.
	p, _ := s.Get("webapp")
	if p.Status != StatusPending {
		t.Errorf("rejected transition mutated status to %s", p.Status)
	}
}

func TestCheckAndStartClaims(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}

	p, err := s.CheckAndStart("webapp", false)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != StatusDeveloping {
		t.Errorf("expected developing after claim, got %s", p.Status)
	}
}

func TestCheckAndStartBusy(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CheckAndStart("webapp", false); err != nil {
		t.Fatal(err)
	}

	_, err := s.CheckAndStart("webapp", false)
	var busy *BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected BusyError, got %v", err)
	}

	// force must not bypass the concurrency guard.
	_, err = s.CheckAndStart("webapp", true)
	if !errors.As(err, &busy) {
		t.Fatalf("force bypassed the concurrency guard: %v", err)
	}
}

func TestCheckAndStartAlreadyIntegrated(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}
	for _, to := range []Status{StatusDeveloping, StatusReady, StatusDeployed, StatusIntegrated} {
		if err := s.Transition("webapp", to); err != nil {
			t.Fatal(err)
		}
	}

	_, err := s.CheckAndStart("webapp", false)
	var integrated *AlreadyIntegratedError
	if !errors.As(err, &integrated) {
		t.Fatalf("expected AlreadyIntegratedError, got %v", err)
	}

	// The rejection must have zero side effects.
	p, _ := s.Get("webapp")
	if p.Status != StatusIntegrated {
		t.Errorf("rejected run mutated status to %s", p.Status)
	}

	// force bypasses the integrated pre-check.
	p, err = s.CheckAndStart("webapp", true)
	if err != nil {
		t.Fatalf("force should bypass integrated check: %v", err)
	}
	if p.Status != StatusDeveloping {
		t.Errorf("expected developing after forced claim, got %s", p.Status)
	}
}

func TestCheckAndStartRerunsFailed(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFailed("webapp", "boom"); err != nil {
		t.Fatal(err)
	}

	p, err := s.CheckAndStart("webapp", false)
	if err != nil {
		t.Fatalf("failed project should be re-runnable: %v", err)
	}
	if p.Status != StatusDeveloping || p.Error != "" {
		t.Errorf("expected clean developing state, got %+v", p)
	}
}

func TestCheckAndStartConcurrent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CheckAndStart("webapp", false); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("expected exactly one concurrent claim to win, got %d", won)
	}
}

func TestSetFailedRecordsError(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFailed("webapp", "validation failed: 3 tests"); err != nil {
		t.Fatal(err)
	}

	p, _ := s.Get("webapp")
	if p.Status != StatusFailed {
		t.Errorf("expected failed, got %s", p.Status)
	}
	if p.Error != "validation failed: 3 tests" {
		t.Errorf("expected error recorded, got %q", p.Error)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := s.Create(name, "/src/"+name); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetFailed("beta", "x"); err != nil {
		t.Fatal(err)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(all))
	}
	if all[0].Name != "alpha" || all[1].Name != "beta" {
		t.Error("expected projects sorted by name")
	}

	failed, err := s.List(StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Name != "beta" {
		t.Errorf("expected only beta failed, got %v", failed)
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("webapp", "/src"); err != nil {
		t.Fatal(err)
	}

	if err := s.Update("webapp", func(p *Project) { p.Path = "/moved" }); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get("webapp")
	if p.Path != "/moved" {
		t.Errorf("update not persisted: %+v", p)
	}
}
