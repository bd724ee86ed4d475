package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/infrastructure/memory"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HashCost = bcrypt.MinCost
	return cfg
}

func newTestLedger(t *testing.T) (*Ledger, *memory.LedgerStore, *clock.Fake) {
	t.Helper()
	store := memory.NewLedgerStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := New(store, clk, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return l, store, clk
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

// --- RequestCode ---

func TestRequestCode_IssuesSixDigitCode(t *testing.T) {
	l, store, clk := newTestLedger(t)
	ctx := context.Background()

	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Regexp(t, sixDigits, code)
	assert.NotEqual(t, byte('0'), code[0])

	otps, blocks := store.Len()
	assert.Equal(t, 1, otps)
	assert.Equal(t, 0, blocks)

	rec, err := store.GetOTP(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), rec.IssuedAt)
	assert.Equal(t, clk.Now().Add(10*time.Minute), rec.ExpiresAt)
	assert.NotContains(t, rec.CodeHash, code)
}

func TestRequestCode_ReplacesPendingCode(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	second, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	otps, _ := store.Len()
	assert.Equal(t, 1, otps)

	if first != second {
		var invalid *domain.InvalidCodeError
		assert.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", first), &invalid)
	}
	assert.NoError(t, l.VerifyCode(ctx, "a@b.com", second))
}

func TestRequestCode_RandomSourceFailure(t *testing.T) {
	l, store, _ := newTestLedger(t)
	l.random = failingReader{}

	_, err := l.RequestCode(context.Background(), "a@b.com")
	require.Error(t, err)
	otps, _ := store.Len()
	assert.Equal(t, 0, otps)
}

func TestGenerateCode_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode(rand.Reader)
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
		assert.GreaterOrEqual(t, code, "100000")
	}
}

// --- VerifyCode ---

func TestVerifyCode_SucceedsExactlyOnce(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	require.NoError(t, l.VerifyCode(ctx, "a@b.com", code))
	err = l.VerifyCode(ctx, "a@b.com", code)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	otps, blocks := store.Len()
	assert.Equal(t, 0, otps)
	assert.Equal(t, 0, blocks)
}

func TestVerifyCode_NoPendingCode(t *testing.T) {
	l, _, _ := newTestLedger(t)
	err := l.VerifyCode(context.Background(), "nobody@b.com", "123456")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifyCode_WrongCodeCountsDown(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	var invalid *domain.InvalidCodeError
	require.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", wrongCode(code)), &invalid)
	assert.Equal(t, 2, invalid.Remaining)
	assert.ErrorIs(t, invalid, domain.ErrInvalidCode)

	require.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", wrongCode(code)), &invalid)
	assert.Equal(t, 1, invalid.Remaining)

	var blocked *domain.BlockedError
	require.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", wrongCode(code)), &blocked)
	assert.Equal(t, 10*time.Minute, blocked.RetryAfter)
	assert.Equal(t, 10, blocked.Minutes())
	assert.True(t, blocked.Tripped)
}

func TestVerifyCode_BlockRejectsEverything(t *testing.T) {
	l, _, clk := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_ = l.VerifyCode(ctx, "a@b.com", wrongCode(code))
	}

	clk.Advance(30 * time.Second)

	err = l.VerifyCode(ctx, "a@b.com", code)
	var blocked *domain.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 10, blocked.Minutes())
	assert.False(t, blocked.Tripped)

	_, err = l.RequestCode(ctx, "a@b.com")
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 9*time.Minute+30*time.Second, blocked.RetryAfter)
	assert.ErrorIs(t, err, domain.ErrBlocked)
}

func TestVerifyCode_BlockLapsesThenSucceeds(t *testing.T) {
	l, store, clk := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_ = l.VerifyCode(ctx, "a@b.com", wrongCode(code))
	}

	clk.Advance(10*time.Minute + time.Second)

	fresh, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	require.NoError(t, l.VerifyCode(ctx, "a@b.com", fresh))

	_, blocks := store.Len()
	assert.Equal(t, 0, blocks)
}

func TestVerifyCode_LapsedBlockKeepsAttemptCount(t *testing.T) {
	l, _, clk := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_ = l.VerifyCode(ctx, "a@b.com", wrongCode(code))
	}

	clk.Advance(10*time.Minute + time.Second)
	fresh, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	// the counter was never reset, so one more miss re-blocks immediately
	var blocked *domain.BlockedError
	assert.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", wrongCode(fresh)), &blocked)
}

func TestVerifyCode_SuccessResetsAttempts(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	_ = l.VerifyCode(ctx, "a@b.com", wrongCode(code))
	_ = l.VerifyCode(ctx, "a@b.com", wrongCode(code))
	require.NoError(t, l.VerifyCode(ctx, "a@b.com", code))

	code, err = l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	var invalid *domain.InvalidCodeError
	require.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", wrongCode(code)), &invalid)
	assert.Equal(t, 2, invalid.Remaining)
}

func TestVerifyCode_ExpiredBeforeMismatch(t *testing.T) {
	l, store, clk := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	clk.Advance(10*time.Minute + time.Second)

	assert.ErrorIs(t, l.VerifyCode(ctx, "a@b.com", code), domain.ErrExpired)
	otps, blocks := store.Len()
	assert.Equal(t, 0, otps, "expired record is dropped")
	assert.Equal(t, 0, blocks, "expired code is not a failed attempt")

	assert.ErrorIs(t, l.VerifyCode(ctx, "a@b.com", code), domain.ErrNotFound)

	_, err = l.RequestCode(ctx, "a@b.com")
	assert.NoError(t, err)
}

func TestVerifyCode_ValidAtExactExpiry(t *testing.T) {
	l, _, clk := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	assert.NoError(t, l.VerifyCode(ctx, "a@b.com", code))
}

func TestVerifyCode_IdentifiersAreIndependent(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	a, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)
	b, err := l.RequestCode(ctx, "9876543210")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = l.VerifyCode(ctx, "a@b.com", wrongCode(a))
	}
	assert.NoError(t, l.VerifyCode(ctx, "9876543210", b))
}

func TestVerifyCode_ConcurrentFailuresAreNotLost(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
		blocked int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.VerifyCode(ctx, "a@b.com", wrongCode(code))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, domain.ErrInvalidCode):
				invalid++
			case errors.Is(err, domain.ErrBlocked):
				blocked++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, invalid)
	assert.Equal(t, n-2, blocked)
	b, err := store.GetBlock(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 3, b.FailedAttempts)
}

func TestVerifyCode_RetriesOnConflict(t *testing.T) {
	store := &conflictOnceStore{LedgerStore: memory.NewLedgerStore()}
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := New(store, clk, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	code, err := l.RequestCode(ctx, "a@b.com")
	require.NoError(t, err)

	var invalid *domain.InvalidCodeError
	require.ErrorAs(t, l.VerifyCode(ctx, "a@b.com", wrongCode(code)), &invalid)
	assert.Equal(t, 2, invalid.Remaining)
	assert.Equal(t, 2, store.casCalls)
}

// --- Sweep ---

func TestSweep_RemovesOnlyExpiredCodes(t *testing.T) {
	l, store, clk := newTestLedger(t)
	ctx := context.Background()

	code, err := l.RequestCode(ctx, "old@b.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_ = l.VerifyCode(ctx, "old@b.com", wrongCode(code))
	}
	clk.Advance(11 * time.Minute)
	_, err = l.RequestCode(ctx, "fresh@b.com")
	require.NoError(t, err)

	n, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	otps, blocks := store.Len()
	assert.Equal(t, 1, otps)
	assert.Equal(t, 1, blocks)
}

func TestRunReaper_StopsOnCancel(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunReaper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

// --- helpers ---

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

type conflictOnceStore struct {
	*memory.LedgerStore
	casCalls int
}

func (s *conflictOnceStore) CompareAndSwapBlock(ctx context.Context, expected int64, next *domain.BlockRecord) error {
	s.casCalls++
	if s.casCalls == 1 {
		return domain.ErrConflict
	}
	return s.LedgerStore.CompareAndSwapBlock(ctx, expected, next)
}
