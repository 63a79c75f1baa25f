package executor

import (
	"testing"
	"time"
)

func waitIdle(t *testing.T, g *parkGroup, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		n := len(g.idle)
		g.mu.Unlock()
		if n == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never observed %d idle workers", want)
}

func TestUnparkBetweenPrepareAndPark(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	w := g.newWorker()

	tok := w.preparePark()
	g.unparkOne()

	done := make(chan struct{})
	go func() {
		tok.park()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("park slept despite an unpark after prepare")
	}
}

func TestUnparkOneWakesExactlyOne(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	woke := make(chan int, 2)
	for i := 0; i < 2; i++ {
		w := g.newWorker()
		tok := w.preparePark()
		go func(i int) {
			tok.park()
			woke <- i
		}(i)
	}
	waitIdle(t, g, 2)

	g.unparkOne()
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("no worker woke after unparkOne")
	}
	select {
	case <-woke:
		t.Fatal("a single unparkOne woke two workers")
	case <-time.After(50 * time.Millisecond):
	}

	g.unparkOne()
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("second unparkOne did not wake the remaining worker")
	}
}

func TestUnparkTargetsSpecificWorker(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	w1 := g.newWorker()
	w2 := g.newWorker()

	tok1 := w1.preparePark()
	woke1 := make(chan struct{})
	go func() {
		tok1.park()
		close(woke1)
	}()
	tok2 := w2.preparePark()
	woke2 := make(chan struct{})
	go func() {
		tok2.park()
		close(woke2)
	}()
	waitIdle(t, g, 2)

	// w1 parked first, so a LIFO unparkOne would pick w2; the targeted
	// unpark must wake w1 regardless.
	g.unpark(w1)
	select {
	case <-woke1:
	case <-time.After(2 * time.Second):
		t.Fatal("targeted unpark did not wake its worker")
	}
	select {
	case <-woke2:
		t.Fatal("targeted unpark woke a different worker")
	case <-time.After(50 * time.Millisecond):
	}

	g.unpark(w2)
	<-woke2
}

func TestUnparkWithoutIntentIsNoop(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	w := g.newWorker()
	g.unpark(w) // no intent registered

	// The worker must still block on its next full cycle.
	tok := w.preparePark()
	if tok.notified() {
		t.Fatal("unpark without intent left a pending notification")
	}
}

func TestTokenNotified(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	w := g.newWorker()

	tok := w.preparePark()
	if tok.notified() {
		t.Fatal("fresh token reports notified")
	}
	g.unparkOne()
	if !tok.notified() {
		t.Fatal("token missed the unpark")
	}
	tok.park()

	tok = w.preparePark()
	g.close()
	if !tok.notified() {
		t.Fatal("token missed the group close")
	}
}

func TestRecruitNextPassesConsumedWake(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	w1 := g.newWorker()
	w2 := g.newWorker()

	// w1 registers intent but will find work instead of parking.
	w1.preparePark()
	g.unparkOne() // consumed by w1 without sleeping

	tok2 := w2.preparePark()
	done := make(chan struct{})
	go func() {
		tok2.park()
		close(done)
	}()
	waitIdle(t, g, 1)

	// w1 obtained a task: its consumed wake must pass on to w2.
	w1.recruitNext()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recruitNext did not pass the wake on")
	}
}

func TestRecruitNextWithdrawsIntent(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	w := g.newWorker()
	w.preparePark()
	w.recruitNext()
	g.mu.Lock()
	n := len(g.idle)
	g.mu.Unlock()
	if n != 0 {
		t.Fatalf("intent not withdrawn, %d idle workers remain", n)
	}
}

func TestCloseWakesAllParked(t *testing.T) {
	t.Parallel()
	g := newParkGroup()
	woke := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		w := g.newWorker()
		tok := w.preparePark()
		go func() {
			tok.park()
			woke <- struct{}{}
		}()
	}
	waitIdle(t, g, 3)

	g.close()
	for i := 0; i < 3; i++ {
		select {
		case <-woke:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %d still parked after close", i)
		}
	}

	// Parks after close return immediately.
	w := g.newWorker()
	tok := w.preparePark()
	done := make(chan struct{})
	go func() {
		tok.park()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("park blocked after close")
	}
}
