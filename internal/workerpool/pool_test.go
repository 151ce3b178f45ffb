package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsValue(t *testing.T) {
	p := New(2, 0)
	defer p.Close()

	v, err := p.Run(context.Background(), Job{Size: 1, Run: func(ctx context.Context) (any, error) {
		return 42, nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestRunPropagatesNormalError(t *testing.T) {
	p := New(2, 0)
	defer p.Close()

	wantErr := errors.New("boom")
	var calls int32
	_, err := p.Run(context.Background(), Job{Size: 1, Run: func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, wantErr
	}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got err %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call for a normal error, got %d", calls)
	}
}

func TestRunRetriesOncePastPanic(t *testing.T) {
	p := New(2, 0)
	defer p.Close()

	var calls int32
	_, err := p.Run(context.Background(), Job{Size: 1, Run: func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("simulated crash")
		}
		return "recovered", nil
	}})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls (1 crash + 1 retry), got %d", calls)
	}
}

func TestRunFailsAfterTwoCrashes(t *testing.T) {
	p := New(2, 0)
	defer p.Close()

	_, err := p.Run(context.Background(), Job{Size: 1, Run: func(ctx context.Context) (any, error) {
		panic("always crashes")
	}})
	if err == nil {
		t.Fatal("expected error after two crashes")
	}
}

func TestRunManyPreservesOrder(t *testing.T) {
	p := New(4, 0)
	defer p.Close()

	jobs := make([]Job, 10)
	for i := 0; i < 10; i++ {
		i := i
		jobs[i] = Job{Size: 1, Run: func(ctx context.Context) (any, error) {
			return i, nil
		}}
	}
	results, errs := p.RunMany(context.Background(), jobs)
	for i, r := range results {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if r.(int) != i {
			t.Fatalf("results[%d] = %v, want %d", i, r, i)
		}
	}
}

func TestRunAfterCloseReturnsPoolClosed(t *testing.T) {
	p := New(2, 0)
	p.Close()

	_, err := p.Run(context.Background(), Job{Size: 1, Run: func(ctx context.Context) (any, error) {
		return nil, nil
	}})
	if err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestDefaultSizeAtLeastOne(t *testing.T) {
	if DefaultSize() < 1 {
		t.Fatal("DefaultSize must be >= 1")
	}
}

func TestCloseReleasesBackpressureWaiters(t *testing.T) {
	p := New(1, 10) // maxBytes=10: a second job of size 10 blocks on sem.Acquire

	release := make(chan struct{})
	started := make(chan struct{})
	go p.Run(context.Background(), Job{Size: 10, Run: func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}})
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), Job{Size: 10, Run: func(ctx context.Context) (any, error) {
			return nil, nil
		}})
		waiterErr <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the second Run block in sem.Acquire
	p.Close()
	close(release)

	select {
	case err := <-waiterErr:
		if err == nil {
			t.Fatal("expected waiter released by Close to report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release a waiter blocked in sem.Acquire")
	}
}
