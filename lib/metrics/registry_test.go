package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConnectAllocatesSlots(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	a, connected, err := r.Connect(0, now)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if connected != 1 {
		t.Errorf("live count = %d, want 1", connected)
	}
	if a.uid != 0 {
		t.Errorf("first token uid = %d, want 0", a.uid)
	}

	b, connected, err := r.Connect(0, now)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if connected != 2 {
		t.Errorf("live count = %d, want 2", connected)
	}
	if b.uid != 1 {
		t.Errorf("second token uid = %d, want 1", b.uid)
	}
}

func TestSlotReuse(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	a, _, _ := r.Connect(0, now)
	if _, _, err := r.Connect(0, now); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, _, err := r.Disconnect(a, now); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	c, _, err := r.Connect(0, now)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.uid != a.uid {
		t.Errorf("reconnect got slot %d, want reused slot %d", c.uid, a.uid)
	}
	if len(r.clients) != 2 {
		t.Errorf("table length = %d, want 2 (never shrinks, holes reused)", len(r.clients))
	}
}

func TestAdmissionBound(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, _, err := r.Connect(2, now); err != nil {
			t.Fatalf("Connect() #%d error = %v", i, err)
		}
	}

	_, _, err := r.Connect(2, now)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Connect() over limit error = %v, want RejectedError", err)
	}
	if rejected.Count != 3 {
		t.Errorf("rejected count = %d, want 3 (attempted count)", rejected.Count)
	}
	if r.Connections() != 2 {
		t.Errorf("Connections() = %d, want 2 after revert", r.Connections())
	}
	// The rejected attempt must not occupy a slot.
	if len(r.clients) != 2 {
		t.Errorf("table length = %d, want 2", len(r.clients))
	}
}

func TestAdmissionUnbounded(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	for i := 0; i < 100; i++ {
		if _, _, err := r.Connect(0, now); err != nil {
			t.Fatalf("Connect() #%d with no limit error = %v", i, err)
		}
	}
	if r.Connections() != 100 {
		t.Errorf("Connections() = %d, want 100", r.Connections())
	}
}

func TestConnectionsTotalCountsAttempts(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	r.Connect(1, now)
	r.Connect(1, now) // rejected
	r.Connect(1, now) // rejected

	if got := r.connectionsTotal.Load(); got != 3 {
		t.Errorf("connectionsTotal = %d, want 3 (rejected attempts count)", got)
	}
	if r.Connections() != 1 {
		t.Errorf("Connections() = %d, want 1", r.Connections())
	}
}

func TestConcurrentAdmission(t *testing.T) {
	const attempts = 64
	const limit = 10

	r := NewRegistry(time.Now())
	now := time.Now()

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Connect(limit, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
			continue
		}
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	// The ceiling is best effort: a transient over-count can turn away a
	// connection that would have fit, so admitted may fall short of the
	// limit, but never exceed it.
	if admitted > limit {
		t.Errorf("admitted = %d, want at most %d", admitted, limit)
	}
	if admitted == 0 {
		t.Error("admitted = 0, want at least one connection through")
	}
	if r.Connections() != admitted {
		t.Errorf("Connections() = %d, want %d", r.Connections(), admitted)
	}
	if len(r.clients) != admitted {
		t.Errorf("table length = %d, want %d", len(r.clients), admitted)
	}
}

func TestDisconnect(t *testing.T) {
	r := NewRegistry(time.Now())
	start := time.Now()

	token, _, _ := r.Connect(0, start)
	r.SentChunk(token)
	r.SentChunk(token)
	r.SentBanner(token)

	connected, seconds, err := r.Disconnect(token, start.Add(42*time.Second))
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if connected != 0 {
		t.Errorf("live count after disconnect = %d, want 0", connected)
	}
	if seconds != 42 {
		t.Errorf("duration = %d, want 42", seconds)
	}

	if r.former.connectionTime != 42 {
		t.Errorf("former connection time = %d, want 42", r.former.connectionTime)
	}
	if r.former.sentChunksSum != 2 {
		t.Errorf("former chunks = %d, want 2", r.former.sentChunksSum)
	}
	if r.former.sentBannersSum != 1 {
		t.Errorf("former banners = %d, want 1", r.former.sentBannersSum)
	}
}

func TestDisconnectErrors(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	token, _, _ := r.Connect(0, now)

	if _, _, err := r.Disconnect(Token{uid: 99}, now); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Disconnect(never issued) error = %v, want ErrInvalidToken", err)
	}

	if _, _, err := r.Disconnect(token, now.Add(time.Second)); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, _, err := r.Disconnect(token, now); !errors.Is(err, ErrAlreadyDisconnected) {
		t.Errorf("double Disconnect() error = %v, want ErrAlreadyDisconnected", err)
	}

	// Neither failure may touch the aggregate or the live count.
	if got := r.former.connectionTimeTill[1]; got != 1 {
		t.Errorf("former bucket 1 = %d, want exactly the one real disconnect", got)
	}
	if r.Connections() != 0 {
		t.Errorf("Connections() = %d, want 0", r.Connections())
	}
}

func TestRecordEvents(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	token, _, _ := r.Connect(0, now)

	for i := 0; i < 3; i++ {
		if err := r.SentChunk(token); err != nil {
			t.Fatalf("SentChunk() error = %v", err)
		}
	}
	if err := r.SentEasterEgg(token); err != nil {
		t.Fatalf("SentEasterEgg() error = %v", err)
	}
	if err := r.SentBanner(token); err != nil {
		t.Fatalf("SentBanner() error = %v", err)
	}

	c := r.clients[token.uid]
	if c.sentChunks != 3 || c.sentEasterEggs != 1 || c.sentBanners != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/1/1", c.sentChunks, c.sentEasterEggs, c.sentBanners)
	}
}

func TestRecordEventsDeadToken(t *testing.T) {
	r := NewRegistry(time.Now())
	now := time.Now()

	token, _, _ := r.Connect(0, now)
	r.Disconnect(token, now)

	if err := r.SentChunk(token); !errors.Is(err, ErrAlreadyDisconnected) {
		t.Errorf("SentChunk(dead) error = %v, want ErrAlreadyDisconnected", err)
	}
	if err := r.SentBanner(Token{uid: 7}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("SentBanner(never issued) error = %v, want ErrInvalidToken", err)
	}

	// No mutation: the former aggregate still reflects zero events.
	if r.former.sentChunksSum != 0 || r.former.sentBannersSum != 0 {
		t.Errorf("former sums mutated: chunks %d banners %d", r.former.sentChunksSum, r.former.sentBannersSum)
	}
}

func TestElapsedSeconds(t *testing.T) {
	start := time.Now()
	if got := elapsedSeconds(start, start); got != 0 {
		t.Errorf("elapsedSeconds(same instant) = %d, want 0", got)
	}
	if got := elapsedSeconds(start, start.Add(1500*time.Millisecond)); got != 1 {
		t.Errorf("elapsedSeconds(1.5s) = %d, want 1 (whole seconds)", got)
	}
	if got := elapsedSeconds(start, start.Add(-time.Minute)); got != 0 {
		t.Errorf("elapsedSeconds(clock went back) = %d, want 0", got)
	}
}
