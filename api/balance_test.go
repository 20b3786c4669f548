package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalance_PrepaidStudentIsClear(t *testing.T) {
	// GIVEN: A 1600 unit fee paid with 2000
	// WHEN: Reading the balance
	// THEN: Balance -400, 400 prepaid available, clear for graduation

	ts := newTestServer(t)
	ts.attend("S1", "sess-1", "2025-01-10")
	rec := ts.do(http.MethodPost, "/api/students/S1/payments", map[string]any{
		"amount": "2000", "mode": "Cash", "purpose": "Class Fees",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/students/S1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[BalanceDTO](t, rec)

	assert.Equal(t, "S1", bal.StudentID)
	assert.True(t, dec("-400").Equal(bal.Balance))
	assert.True(t, dec("1600").Equal(bal.TotalInvoiced))
	assert.True(t, dec("2000").Equal(bal.TotalPaid))
	assert.True(t, dec("400").Equal(bal.PrepaidAvailable))
	assert.True(t, bal.Clear)
}

func TestGetBalance_UnknownStudentIsZero(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/students/nobody/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[BalanceDTO](t, rec)
	assert.True(t, bal.Balance.IsZero())
	assert.True(t, bal.Clear)
}

func TestGetDebts_OldestFirst(t *testing.T) {
	ts := newTestServer(t)
	ts.attend("S1", "mar", "2025-03-01")
	ts.attend("S1", "jan", "2025-01-01")
	ts.attend("S1", "feb", "2025-02-01")

	rec := ts.do(http.MethodPost, "/api/students/S1/payments", map[string]any{
		"amount": "800", "mode": "Cash", "purpose": "Class Fees",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/students/S1/debts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	debts := decodeBody[[]DebtDTO](t, rec)

	require.Len(t, debts, 3)
	assert.Equal(t, []string{"jan", "feb", "mar"}, []string{debts[0].SessionID, debts[1].SessionID, debts[2].SessionID})
	assert.True(t, dec("800").Equal(debts[0].Outstanding))
	assert.True(t, dec("1600").Equal(debts[1].Outstanding))
}

func TestGetStatement_RunningBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.attend("S1", "sess-1", "2025-01-10")
	rec := ts.do(http.MethodPost, "/api/students/S1/payments", map[string]any{
		"amount": "1000", "mode": "Cash", "purpose": "Class Fees", "payment_date": "2025-01-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/students/S1/statement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[StatementDTO](t, rec)

	require.Len(t, st.Lines, 2)
	assert.Equal(t, "invoice", st.Lines[0].Kind)
	assert.True(t, dec("1600").Equal(st.Lines[0].Running))
	assert.Equal(t, "payment", st.Lines[1].Kind)
	assert.True(t, dec("600").Equal(st.Lines[1].Running))
	assert.True(t, dec("600").Equal(st.Balance.Balance))
	assert.False(t, st.Balance.Clear)
	require.Len(t, st.Outstanding, 1)
}
