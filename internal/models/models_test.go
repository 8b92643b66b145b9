package models

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a := GenerateToken()
	b := GenerateToken()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

func TestNewFlag(t *testing.T) {
	f := NewFlag("CTF_", 3, 7, 12, 2)
	assert.True(t, strings.HasPrefix(f.Flag, "CTF_"))
	assert.Len(t, f.Flag, len("CTF_")+32)
	assert.Len(t, f.PrivateFlagData, 64)
	assert.Equal(t, 3, f.TeamID)
	assert.Equal(t, 7, f.TaskID)
	assert.Equal(t, 12, f.Round)
	assert.Equal(t, 1, f.VulnNumber)

	place, err := strconv.Atoi(f.PublicFlagData)
	require.NoError(t, err)
	assert.Equal(t, 2, place)
}

func TestTaskCheckerTags(t *testing.T) {
	plain := Task{CheckerType: "hackerdom"}
	assert.True(t, plain.CheckerReturnsFlagID())
	assert.False(t, plain.CheckerProvidesPublicFlagData())

	nfr := Task{CheckerType: "hackerdom_nfr"}
	assert.False(t, nfr.CheckerReturnsFlagID())

	pfr := Task{CheckerType: "hackerdom_pfr"}
	assert.True(t, pfr.CheckerProvidesPublicFlagData())

	both := Task{CheckerType: "hackerdom_nfr_pfr"}
	assert.False(t, both.CheckerReturnsFlagID())
	assert.True(t, both.CheckerProvidesPublicFlagData())
}

func TestTeamTaskSLA(t *testing.T) {
	tt := TeamTask{Checks: 0, ChecksPassed: 0}
	assert.Equal(t, 0.0, tt.SLA())

	tt = TeamTask{Checks: 10, ChecksPassed: 7}
	assert.InDelta(t, 0.7, tt.SLA(), 1e-9)
}
