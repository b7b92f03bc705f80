package usecases

import (
	"context"
	"testing"
	"time"

	"qubix-server/entities"
	"qubix-server/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuickRegister_IsNewOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, isNew, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-01", QubicAddress: "ADDR"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, entities.UnknownGPUModel, p.GPUModel)
	assert.Zero(t, p.GPUVramGB)
	assert.True(t, p.IsActive)
	assert.False(t, p.IsOnline)

	again, isNew, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-01", GPUModel: "A100", GPUVramGB: 80})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, "A100", again.GPUModel)
	assert.Equal(t, 80.0, again.GPUVramGB)
	assert.Equal(t, "ADDR", again.QubicAddress, "empty fields keep stored values")

	all, err := f.providers.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, _, err = f.providers.QuickRegister(ctx, QuickRegisterInput{})
	assert.ErrorIs(t, err, entities.ErrValidation)
}

func TestQuickRegister_OwnedWorkerKeepsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, _, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-09", UserID: "u1", QubicAddress: "MINE"})
	require.NoError(t, err)

	_, _, err = f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-09", QubicAddress: "THEIRS"})
	assert.ErrorIs(t, err, entities.ErrForbidden)
	_, _, err = f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-09", UserID: "u2", QubicAddress: "THEIRS"})
	assert.ErrorIs(t, err, entities.ErrForbidden)

	again, isNew, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-09", UserID: "u1", PricePerHour: 3})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, "MINE", again.QubicAddress)
	assert.Equal(t, "u1", again.UserID)
}

func TestHeartbeat_OnlineEdgeAndMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-01"})
	require.NoError(t, err)

	_, err = f.providers.Heartbeat(ctx, "rig-01", entities.GPUMetrics{Utilization: 40, Temperature: 60})
	require.NoError(t, err)
	_, err = f.providers.Heartbeat(ctx, p.ID, entities.GPUMetrics{Utilization: 41, Temperature: 60})
	require.NoError(t, err)

	dash := f.notifier.types("role:" + ws.RoleDashboard)
	count := func(kind string) int {
		n := 0
		for _, typ := range dash {
			if typ == kind {
				n++
			}
		}
		return n
	}
	// one for registration, one for coming online
	assert.Equal(t, 2, count(ws.TypeProviderStatus))
	assert.Equal(t, 1, count(ws.TypeGPUMetrics), "small change is not broadcast")

	got, err := f.providers.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.Equal(t, 41.0, got.GPUUtil)
	require.NotNil(t, got.LastHeartbeat)

	m, err := f.providers.Metrics(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Summary.Samples)

	_, err = f.providers.Heartbeat(ctx, "unknown", entities.GPUMetrics{})
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestMarkOffline_RespectsFreshHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.providers.now = fixedClock(start)
	p := f.onlineProvider(t, "rig-01")

	_, changed, err := f.providers.MarkOffline(ctx, p.ID, start.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, changed, "heartbeat newer than cutoff")

	got, changed, err := f.providers.MarkOffline(ctx, p.ID, start.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, got.IsOnline)

	m, err := f.providers.Metrics(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, m.Summary.Samples)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.onlineProvider(t, "rig-01")

	got, err := f.providers.SetActive(ctx, p.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, got.Available())

	_, err = f.providers.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, "s@example.com")
	p := f.onlineProvider(t, "rig-01")
	_, _, err := f.providers.QuickRegister(ctx, QuickRegisterInput{WorkerID: "rig-02", GPUVramGB: 16, PricePerHour: 8})
	require.NoError(t, err)

	done, err := f.jobs.Submit(ctx, SubmitInput{})
	require.NoError(t, err)
	_, err = f.jobs.Assign(ctx, done.ID, p.ID)
	require.NoError(t, err)
	_, err = f.jobs.Complete(ctx, done.ID, "")
	require.NoError(t, err)
	_, err = f.jobs.Submit(ctx, SubmitInput{})
	require.NoError(t, err)

	s, err := f.stats.Compute(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.Jobs.Total)
	assert.EqualValues(t, 1, s.Jobs.Active)
	assert.EqualValues(t, 1, s.Jobs.Completed)
	assert.Equal(t, 2, s.Providers.Total)
	assert.Equal(t, 1, s.Providers.Online)
	assert.Equal(t, 1, s.Network.TotalComputors)
	assert.Equal(t, 24.0, s.Network.AvailableCompute)
	assert.Equal(t, 2.0, s.Network.AveragePrice)
	assert.EqualValues(t, 1, s.Network.Users)
}
