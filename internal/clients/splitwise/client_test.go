package splitwise

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

const me = 7

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func expense(id int64, paid, owed string, deleted bool) map[string]any {
	e := map[string]any{
		"id":          id,
		"description": "dinner",
		"cost":        "50.00",
		"date":        "2021-03-05T18:30:00Z",
		"updated_at":  "2021-03-06T09:00:00Z",
		"deleted_at":  nil,
		"users": []map[string]any{
			{"user_id": me, "user": map[string]any{"id": me, "first_name": "Me"}, "paid_share": paid, "owed_share": owed},
			{"user_id": 42, "user": map[string]any{"id": 42, "first_name": "Sam", "last_name": "Lee"}, "paid_share": "50.00", "owed_share": "30.00"},
		},
	}
	if deleted {
		e["deleted_at"] = "2021-03-06T09:00:00Z"
	}
	return e
}

func newTestServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	mux.HandleFunc("/get_current_user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"user": map[string]any{"id": me, "first_name": "Me"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000), WithPageSize(2))
}

func TestGetExpensesUpdatedAfter_PagesAndMapsShares(t *testing.T) {
	var offsets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/get_expenses", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2021-03-01T00:00:00Z", r.URL.Query().Get("updated_after"))
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		switch offset {
		case "0":
			writeJSON(w, map[string]any{"expenses": []any{expense(1, "0.00", "20.00", false), expense(2, "50.00", "20.00", false)}})
		default:
			writeJSON(w, map[string]any{"expenses": []any{expense(3, "0.00", "20.00", true)}})
		}
	})
	client := newTestServer(t, mux)

	got, err := client.GetExpensesUpdatedAfter(context.Background(), time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"0", "2"}, offsets)

	first := got[0]
	assert.Equal(t, int64(1), first.ID)
	assert.True(t, first.PaidAmount.IsZero())
	assert.True(t, first.PersonalAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, models.Date(2021, 3, 5), first.Date)
	assert.Equal(t, time.Date(2021, 3, 6, 9, 0, 0, 0, time.UTC), first.UpdatedAt)
	require.Len(t, first.Splits, 1)
	assert.Equal(t, "Sam Lee", first.Splits[0].Name)

	assert.True(t, got[1].PaidAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, got[2].IsDeleted)
}

func TestGetExpensesUpdatedAfter_MalformedShareFails(t *testing.T) {
	for _, tc := range []struct {
		name       string
		paid, owed string
	}{
		{"paid share", "abc", "20.00"},
		{"owed share", "0.00", "twenty"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/get_expenses", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"expenses": []any{expense(1, tc.paid, tc.owed, false)}})
			})
			client := newTestServer(t, mux)

			got, err := client.GetExpensesUpdatedAfter(context.Background(), time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC))
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, common.ErrExternalService))
			assert.Contains(t, err.Error(), "expense 1")
		})
	}
}

func TestGetExpensesUpdatedAfter_MissingShareIsZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_expenses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"expenses": []any{expense(1, "", "20.00", false)}})
	})
	client := newTestServer(t, mux)

	got, err := client.GetExpensesUpdatedAfter(context.Background(), time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].PaidAmount.IsZero())
	assert.True(t, got[0].PersonalAmount.Equal(decimal.NewFromInt(20)))
}

func TestCreateExpense_SendsSharesForCurrentUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/create_expense", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "60.00", body["cost"])
		assert.Equal(t, float64(me), body["users__0__user_id"])
		assert.Equal(t, "60.00", body["users__0__paid_share"])
		assert.Equal(t, "30.00", body["users__0__owed_share"])
		assert.Equal(t, float64(42), body["users__1__user_id"])
		assert.Equal(t, "30.00", body["users__1__owed_share"])
		writeJSON(w, map[string]any{"expenses": []any{expense(99, "60.00", "30.00", false)}, "errors": map[string]any{}})
	})
	client := newTestServer(t, mux)

	got, err := client.CreateExpense(context.Background(), models.NewSplitwiseExpense{
		Amount:      decimal.NewFromInt(-60),
		Description: "groceries",
		Date:        models.Date(2021, 3, 10),
		Splits:      []models.SplitDetail{{SplitwiseUserID: 42, Amount: decimal.NewFromInt(30)}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.ID)
	assert.True(t, got.PaidAmount.Equal(decimal.NewFromInt(60)))
}

func TestCreateExpense_ErrorsInBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/create_expense", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"expenses": []any{}, "errors": map[string]any{"base": []string{"shares do not add up"}}})
	})
	client := newTestServer(t, mux)

	_, err := client.CreateExpense(context.Background(), models.NewSplitwiseExpense{Amount: decimal.NewFromInt(10), Date: models.Date(2021, 3, 10)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExternalService))
	assert.Contains(t, err.Error(), "shares do not add up")
}

func TestDeleteExpense(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("/delete_expense/", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.URL.Path)
		id, _ := strconv.Atoi(r.URL.Path[len("/delete_expense/"):])
		writeJSON(w, map[string]any{"success": id == 5})
	})
	client := newTestServer(t, mux)

	require.NoError(t, client.DeleteExpense(context.Background(), 5))
	err := client.DeleteExpense(context.Background(), 6)
	assert.True(t, errors.Is(err, common.ErrExternalService))
	assert.Equal(t, []string{"/delete_expense/5", "/delete_expense/6"}, deleted)
}

func TestGetUsers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_friends", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"friends": []any{
			map[string]any{"id": 42, "first_name": "Sam", "last_name": "Lee"},
			map[string]any{"id": 43, "first_name": "Alex"},
		}})
	})
	client := newTestServer(t, mux)

	users, err := client.GetUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []*models.SplitwiseUser{{ID: 42, Name: "Sam Lee"}, {ID: 43, Name: "Alex"}}, users)
}

func TestClient_HTTPErrorIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.GetUsers(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExternalService))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "/get_friends", apiErr.Endpoint)
}

func TestCurrentUserID_Cached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, map[string]any{"user": map[string]any{"id": me}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	for range 3 {
		id, err := client.CurrentUserID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(me), id)
	}
	assert.Equal(t, 1, calls)
}
