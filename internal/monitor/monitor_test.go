package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adarena/backend/internal/models"
)

func TestExpectedActions(t *testing.T) {
	tasks := []models.Task{
		{ID: 1, Puts: 1, Gets: 1},
		{ID: 2, Puts: 2, Gets: 1},
	}
	// 10 teams: task 1 contributes 10*(1+1+1)=30, task 2 10*(1+2+1)=40.
	assert.Equal(t, 70, ExpectedActions(10, tasks))
	assert.Equal(t, 0, ExpectedActions(0, tasks))
	assert.Equal(t, 0, ExpectedActions(10, nil))
}

func TestAssessCompletion(t *testing.T) {
	r := Assess(3, 100, 100, 0)
	assert.True(t, r.Complete)
	assert.Equal(t, 1.0, r.Progress)

	r = Assess(3, 100, 95, 0)
	assert.True(t, r.Complete)

	r = Assess(3, 100, 94, 0)
	assert.False(t, r.Complete)
	assert.InDelta(t, 0.94, r.Progress, 1e-9)
}

func TestAssessHealthBands(t *testing.T) {
	cases := []struct {
		name      string
		round     int
		completed int
		errored   int
		want      Health
	}{
		{"waiting before round one", 0, 0, 0, HealthWaiting},
		{"no errors", 5, 100, 0, HealthHealthy},
		{"under five percent", 5, 100, 4, HealthHealthy},
		{"five percent is degraded", 5, 100, 5, HealthDegraded},
		{"under fifteen percent", 5, 100, 14, HealthDegraded},
		{"fifteen percent is critical", 5, 100, 15, HealthCritical},
		{"everything failing", 5, 100, 100, HealthCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Assess(tc.round, 100, tc.completed, tc.errored)
			assert.Equal(t, tc.want, r.Health)
		})
	}
}

func TestAssessNoActionsYet(t *testing.T) {
	r := Assess(1, 100, 0, 0)
	assert.Equal(t, 0.0, r.Progress)
	assert.Equal(t, 0.0, r.ErrorRate)
	assert.False(t, r.Complete)
	assert.Equal(t, HealthHealthy, r.Health)
}
