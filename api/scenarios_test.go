package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, ts *testServer, id string) LoadScenarioResponse {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[LoadScenarioResponse](t, rec)
}

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/scenarios/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))
	for _, s := range list {
		assert.Contains(t, scenarioLoaders, s.ID)
	}
}

func TestLoadScenario_Balances(t *testing.T) {
	tests := []struct {
		id      string
		balance string
		clear   bool
	}{
		{"prepay-redeem", "1200", false},
		{"fifo-arrears", "2400", false},
		{"registration", "0", true},
		{"unmatched-payment", "1350", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ts := newTestServer(t)

			got := loadScenario(t, ts, tt.id)

			assert.Equal(t, tt.id, got.ScenarioID)
			assert.True(t, dec(tt.balance).Equal(got.Balance.Balance), "balance %s", got.Balance.Balance)
			assert.Equal(t, tt.clear, got.Balance.Clear)

			rec := ts.do(http.MethodGet, "/api/students/"+got.StudentID+"/reconcile", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, decodeBody[ReconciliationDTO](t, rec).Consistent)
		})
	}
}

func TestLoadScenario_FreshStudentEachTime(t *testing.T) {
	// GIVEN: A scenario loaded once
	// WHEN: It is loaded again
	// THEN: A new student is used and the first one is untouched

	ts := newTestServer(t)
	first := loadScenario(t, ts, "prepay-redeem")
	second := loadScenario(t, ts, "prepay-redeem")

	assert.NotEqual(t, first.StudentID, second.StudentID)
	assert.True(t, first.Balance.Balance.Equal(second.Balance.Balance))

	rec := ts.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prepay-redeem", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
