package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name            string
		check, put, get TaskStatus
		want            TaskStatus
		wantMsg         string
	}{
		{"all up", StatusUp, StatusUp, StatusUp, StatusUp, "Service operational"},
		{"check failed wins", StatusCheckFailed, StatusUp, StatusUp, StatusCheckFailed, "Service check failed"},
		{"check down wins", StatusDown, StatusUp, StatusUp, StatusDown, "Service is down"},
		{"not checked yet", StatusNotChecked, StatusNotChecked, StatusNotChecked, StatusNotChecked, "Not checked yet"},
		{"put failed corrupts", StatusUp, StatusCheckFailed, StatusUp, StatusCorrupt, "Service corrupted (PUT failed)"},
		{"put down corrupts", StatusUp, StatusDown, StatusUp, StatusCorrupt, "Service corrupted (PUT unreachable)"},
		{"get failed mumbles", StatusUp, StatusUp, StatusCheckFailed, StatusMumble, "Service mumble (GET failed)"},
		{"get down mumbles", StatusUp, StatusUp, StatusDown, StatusMumble, "Service mumble (GET unreachable)"},
		{"put outranks get", StatusUp, StatusDown, StatusDown, StatusCorrupt, "Service corrupted (PUT unreachable)"},
		{"check outranks put and get", StatusDown, StatusCheckFailed, StatusCheckFailed, StatusDown, "Service is down"},
		{"pending put and get stay up", StatusUp, StatusNotChecked, StatusNotChecked, StatusUp, "Service operational"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := DeriveStatus(tc.check, tc.put, tc.get)
			assert.Equal(t, tc.want, status)
			assert.Equal(t, tc.wantMsg, msg)
		})
	}
}

// A round's actions land in order; the aggregate must follow each write.
func TestDeriveStatusCascade(t *testing.T) {
	check, put, get := StatusNotChecked, StatusNotChecked, StatusNotChecked

	status, _ := DeriveStatus(check, put, get)
	assert.Equal(t, StatusNotChecked, status)

	check = StatusUp
	status, _ = DeriveStatus(check, put, get)
	assert.Equal(t, StatusUp, status)

	put = StatusDown
	status, _ = DeriveStatus(check, put, get)
	assert.Equal(t, StatusCorrupt, status)

	get = StatusUp
	status, _ = DeriveStatus(check, put, get)
	assert.Equal(t, StatusCorrupt, status)

	put = StatusUp
	status, _ = DeriveStatus(check, put, get)
	assert.Equal(t, StatusUp, status)
}

func TestStatusFromExitCode(t *testing.T) {
	assert.Equal(t, StatusUp, StatusFromExitCode(101))
	assert.Equal(t, StatusCorrupt, StatusFromExitCode(102))
	assert.Equal(t, StatusMumble, StatusFromExitCode(103))
	assert.Equal(t, StatusDown, StatusFromExitCode(104))
	assert.Equal(t, StatusCheckFailed, StatusFromExitCode(110))

	// Anything outside the contract is a checker bug.
	assert.Equal(t, StatusCheckFailed, StatusFromExitCode(0))
	assert.Equal(t, StatusCheckFailed, StatusFromExitCode(1))
	assert.Equal(t, StatusCheckFailed, StatusFromExitCode(137))
	assert.Equal(t, StatusCheckFailed, StatusFromExitCode(-1))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "UP", StatusUp.String())
	assert.Equal(t, "NOT_CHECKED", StatusNotChecked.String())
	assert.Equal(t, "UNKNOWN(42)", TaskStatus(42).String())
}
