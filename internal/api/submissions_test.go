package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adarena/backend/internal/models"
)

func (fx *submitFixture) doSubmit(t *testing.T, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/flags/", strings.NewReader(body))
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	fx.sub.HandleSubmit(rec, req)
	return rec
}

func TestHandleSubmitWireFormat(t *testing.T) {
	fx := newSubmitFixture(t)
	require.NoError(t, fx.cache.SetGameConfig(context.Background(), fx.cfg))
	fx.plantFlag(t, models.Flag{ID: 30, Flag: "CTF_w", TeamID: 2, TaskID: 1, Round: 5})

	rec := fx.doSubmit(t, "tok-alpha", `{"flags": ["CTF_w", "CTF_nope"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []FlagVerdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "CTF_w", out[0].Flag)
	assert.Equal(t, "[CTF_w] Flag accepted! Earned 12.50 flag points!", out[0].Msg)
	assert.Equal(t, FlagVerdict{
		Msg:  "[CTF_nope] Flag is invalid or too old.",
		Flag: "CTF_nope",
	}, out[1])
}

func TestHandleSubmitRejections(t *testing.T) {
	manyFlags := `{"flags": [` + strings.Repeat(`"CTF_x", `, MaxFlagsPerRequest) + `"CTF_x"]}`

	tests := []struct {
		name    string
		token   string
		body    string
		started bool
		wantErr string
	}{
		{"missing header", "", `{"flags": ["CTF_x"]}`, true,
			"Missing X-Team-Token header"},
		{"unknown token", "tok-nope", `{"flags": ["CTF_x"]}`, true,
			"Invalid team token"},
		{"game not started", "tok-alpha", `{"flags": ["CTF_x"]}`, false,
			"Game not started"},
		{"empty list", "tok-alpha", `{"flags": []}`, true,
			"Must provide a list with 1-100 flags"},
		{"too many flags", "tok-alpha", manyFlags, true,
			"Must provide a list with 1-100 flags"},
		{"not an object", "tok-alpha", `["CTF_x"]`, true,
			"Must provide a list with 1-100 flags"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newSubmitFixture(t)
			fx.cfg.GameRunning = tc.started
			require.NoError(t, fx.cache.SetGameConfig(context.Background(), fx.cfg))

			rec := fx.doSubmit(t, tc.token, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantErr, resp.Error)
		})
	}
}
