package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusRunning))
	assert.True(t, StatusPending.CanTransitionTo(StatusCanceled))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusRunning.CanTransitionTo(StatusFailed))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCanceled))

	// Terminal states never move
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRunning))
	assert.False(t, StatusFailed.CanTransitionTo(StatusPending))
	assert.False(t, StatusCanceled.CanTransitionTo(StatusRunning))

	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
}

func TestQueryRunHelpers(t *testing.T) {
	run := QueryRun{Status: StatusCompleted, ResultKey: "results/1/run_1.xlsx"}
	assert.True(t, run.IsCompleted())
	assert.True(t, run.IsTerminal())
	assert.False(t, run.IsFailed())
	assert.True(t, run.HasResultFile())

	running := QueryRun{Status: StatusRunning}
	assert.False(t, running.IsTerminal())
	assert.False(t, running.HasResultFile())
}

func TestRowsRoundTrip(t *testing.T) {
	rows := Rows{
		{"Sale_Date": "2023-10-20", "Total": 3850.75},
	}

	value, err := rows.Value()
	require.NoError(t, err)

	var decoded Rows
	require.NoError(t, decoded.Scan(value))
	require.Len(t, decoded, 1)
	assert.Equal(t, "2023-10-20", decoded[0]["Sale_Date"])
}

func TestRowsScanNil(t *testing.T) {
	var rows Rows
	require.NoError(t, rows.Scan(nil))
	assert.Nil(t, rows)

	value, err := rows.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRowsScanRejectsUnknownType(t *testing.T) {
	var rows Rows
	assert.Error(t, rows.Scan(42))
}
