package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func asUser(t *testing.T, userID uint, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := context.WithValue(req.Context(), utils.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestRawLedgerMutationsAreAdminOnly(t *testing.T) {
	db := setupTestDB(t)
	h := NewHandler(db, zap.NewNop())

	admin := models.User{FullName: "Root", Email: "root@example.com", PasswordHash: "x", Role: models.RoleAdmin}
	require.NoError(t, db.Create(&admin).Error)
	regular := models.User{FullName: "Someone", Email: "someone@example.com", PasswordHash: "x", Role: models.RoleRequester}
	require.NoError(t, db.Create(&regular).Error)

	creditBody := `{"user_id":99,"amount":500,"kind":"bonus","description":"promo"}`

	rr := httptest.NewRecorder()
	h.Credit(rr, asUser(t, regular.ID, "POST", "/ledger/credit", creditBody))
	require.Equal(t, http.StatusForbidden, rr.Code)

	balance, err := h.svc.Balance(99)
	require.NoError(t, err)
	require.Zero(t, balance, "a rejected credit must not mint tokens")

	rr = httptest.NewRecorder()
	h.Debit(rr, asUser(t, regular.ID, "POST", "/ledger/debit", `{"user_id":99,"amount":5,"description":"drain"}`))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	h.Refund(rr, asUser(t, regular.ID, "POST", "/ledger/refund", `{"session_id":1}`))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	h.Credit(rr, asUser(t, admin.ID, "POST", "/ledger/credit", creditBody))
	require.Equal(t, http.StatusCreated, rr.Code)

	balance, err = h.svc.Balance(99)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)
}
