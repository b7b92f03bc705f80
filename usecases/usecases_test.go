package usecases

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"qubix-server/cache"
	"qubix-server/entities"
	"qubix-server/logging"
	"qubix-server/repositories"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type sentMessage struct {
	To   string // client id, or "role:<role>" for broadcasts
	Type string
	Data interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) SendTo(id, msgType string, data interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: id, Type: msgType, Data: data})
	return nil
}

func (n *recordingNotifier) Broadcast(msgType string, data interface{}) int {
	return n.BroadcastTo("", msgType, data)
}

func (n *recordingNotifier) BroadcastTo(role, msgType string, data interface{}) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: "role:" + role, Type: msgType, Data: data})
	return 1
}

func (n *recordingNotifier) types(to string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.To == to {
			out = append(out, m.Type)
		}
	}
	return out
}

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []string
	removed  []string
}

func (q *recordingQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, id)
}

func (q *recordingQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, id)
}

type fakeLedger struct {
	mu    sync.Mutex
	calls int
}

func (l *fakeLedger) SimulateTransfer(_ context.Context, from, to string, amount float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return fmt.Sprintf("tx%d", l.calls), nil
}

type fakeTokens struct{}

func (fakeTokens) Generate(userID, email, role string) (string, error) {
	return "token-" + userID, nil
}

type fixture struct {
	repos     *repositories.Set
	notifier  *recordingNotifier
	queue     *recordingQueue
	ledger    *fakeLedger
	auth      *AuthUseCase
	escrow    *EscrowUseCase
	providers *ProviderUseCase
	jobs      *JobUseCase
	stats     *StatsUseCase
}

const testFeePercent = 10

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	f := &fixture{
		repos:    repositories.NewMemorySet(),
		notifier: &recordingNotifier{},
		queue:    &recordingQueue{},
		ledger:   &fakeLedger{},
	}
	f.auth = NewAuthUseCase(f.repos.Users, fakeTokens{}, 1000, log)
	f.auth.bcryptCost = bcrypt.MinCost
	f.escrow = NewEscrowUseCase(f.repos, f.ledger, f.notifier, "PLATFORM", testFeePercent, log)
	f.providers = NewProviderUseCase(f.repos, cache.NewMetricsCache(10, 5, 2), f.notifier, log)
	f.jobs = NewJobUseCase(f.repos, f.providers, f.escrow, f.notifier, log)
	f.jobs.AttachQueue(f.queue)
	f.stats = NewStatsUseCase(f.repos)
	return f
}

func (f *fixture) registerUser(t *testing.T, email string) *entities.User {
	t.Helper()
	res, err := f.auth.RegisterEmail(context.Background(), RegisterInput{Email: email, Password: "password123"})
	require.NoError(t, err)
	return res.User
}

func (f *fixture) onlineProvider(t *testing.T, workerID string) *entities.Provider {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: workerID, GPUModel: "RTX 4090", GPUVramGB: 24, PricePerHour: 2})
	require.NoError(t, err)
	p, err = f.providers.Heartbeat(ctx, p.ID, entities.GPUMetrics{Utilization: 10, Temperature: 50})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, userID string) float64 {
	t.Helper()
	u, err := f.repos.Users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
