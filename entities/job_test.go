package entities

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{JobPending, JobAssigned, true},
		{JobPending, JobCancelled, true},
		{JobAssigned, JobRunning, true},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobPending, true},
		{JobCompleted, JobRunning, false},
		{JobFailed, JobPending, false},
		{JobCancelled, JobAssigned, false},
		{JobPending, JobCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobTransition_StampsTimes(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &Job{Status: JobPending}

	require.NoError(t, j.Transition(JobRunning, now))
	require.NotNil(t, j.StartedAt)
	assert.Equal(t, now, *j.StartedAt)

	require.NoError(t, j.Transition(JobCompleted, now.Add(time.Minute)))
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.CompletedAt)
	assert.True(t, j.IsTerminal())
}

func TestJobTransition_RequeueClearsProvider(t *testing.T) {
	j := &Job{Status: JobRunning, ProviderID: "p1", Progress: 40}
	require.NoError(t, j.Transition(JobPending, time.Now()))
	assert.Empty(t, j.ProviderID)
	assert.Zero(t, j.Progress)
	assert.Nil(t, j.StartedAt)
}

func TestJobTransition_Invalid(t *testing.T) {
	j := &Job{Status: JobCompleted}
	err := j.Transition(JobRunning, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobCompleted, j.Status)
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, ClampProgress(-5))
	assert.Equal(t, 55, ClampProgress(55))
	assert.Equal(t, 100, ClampProgress(140))
}
