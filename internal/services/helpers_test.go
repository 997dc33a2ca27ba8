package services_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
	"github.com/akagifreeez/tinify-dashboard/pkg/tinify"
)

// fakeProvider shrinks payloads to half their size. Failures are scripted
// per call number (1-based) of Validate or Compress.
type fakeProvider struct {
	mu            sync.Mutex
	validateCalls int
	compressCalls int
	validateErr   map[int]error
	compressErr   map[int]error
	tokens        []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		validateErr: make(map[int]error),
		compressErr: make(map[int]error),
	}
}

func (p *fakeProvider) Validate(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validateCalls++
	p.tokens = append(p.tokens, token)
	return p.validateErr[p.validateCalls]
}

func (p *fakeProvider) Compress(_ context.Context, _ string, data []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compressCalls++
	if err := p.compressErr[p.compressCalls]; err != nil {
		return nil, err
	}
	return bytes.Repeat([]byte{'z'}, len(data)/2), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []services.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev services.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []services.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]services.EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

func providerErr(kind tinify.Kind, status int, msg string) error {
	return &tinify.Error{Kind: kind, Status: status, Message: msg}
}

func cred(token string, limit, used int) ledger.Credential {
	return ledger.Credential{Token: token, MonthlyLimit: limit, Used: used, Active: true}
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, creds ...ledger.Credential) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore(ledger.RotationState{Credentials: creds})
	return ledger.New(store, ledger.WithClock(func() time.Time { return fixedNow })), store
}

func usedOf(t *testing.T, l *ledger.Ledger, token string) int {
	t.Helper()
	c, err := l.Credential(context.Background(), token)
	require.NoError(t, err)
	return c.Used
}

func totalUsed(t *testing.T, l *ledger.Ledger) int {
	t.Helper()
	st, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	total := 0
	for _, c := range st.Credentials {
		total += c.Used
	}
	return total
}
