package collab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

func fakeService(t *testing.T, path string, status int, resp string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if got != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func endpoint(srv *httptest.Server) Endpoint {
	return Endpoint{URL: srv.URL + "/", Token: "secret"}
}

func TestOrderClient_ValidateOrder(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		resp      string
		wantValid bool
		wantErr   bool
	}{
		{
			name:      "valid order",
			status:    http.StatusOK,
			resp:      `{"valid":true,"order":{"orderNumber":"ORD-123456","email":"ana@example.com","name":"Ana","phone":"+573001112233","total":149000}}`,
			wantValid: true,
		},
		{
			name:   "unknown order",
			status: http.StatusOK,
			resp:   `{"valid":false,"order":null}`,
		},
		{
			name:    "service error",
			status:  http.StatusBadGateway,
			resp:    `upstream down`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := fakeService(t, "/orders/validate", tt.status, tt.resp, &body)
			c := NewOrderClient(endpoint(srv), srv.Client())

			info, err := c.ValidateOrder(context.Background(), "ORD-123456", "ana@example.com")
			assert.Equal(t, "ORD-123456", body["orderNumber"])
			assert.Equal(t, "ana@example.com", body["email"])
			if tt.wantErr {
				var cErr *Error
				require.ErrorAs(t, err, &cErr)
				assert.Equal(t, tt.status, cErr.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, info.Valid)
			if tt.wantValid {
				assert.Equal(t, "+573001112233", info.Phone)
				assert.True(t, info.Total.Equal(decimal.NewFromInt(149000)))
			}
		})
	}
}

func TestLabelClient_IssueLabel(t *testing.T) {
	var body map[string]any
	srv := fakeService(t, "/labels", http.StatusCreated,
		`{"labelUrl":"https://labels.test/r-1.pdf","trackingNumber":"TRK-1","carrier":"servientrega"}`, &body)
	c := NewLabelClient(endpoint(srv), srv.Client())

	l, err := c.IssueLabel(context.Background(), &returns.Request{
		ID:          "r-1",
		OrderNumber: "ORD-1",
		Items:       []returns.Item{{ProductID: "1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://labels.test/r-1.pdf", l.URL)
	assert.Equal(t, "TRK-1", l.TrackingNumber)
	assert.Equal(t, "r-1", body["returnId"])
	assert.Len(t, body["items"], 1)
}

func TestLabelClient_EmptyLabel(t *testing.T) {
	srv := fakeService(t, "/labels", http.StatusOK, `{"labelUrl":null}`, nil)
	_, err := NewLabelClient(endpoint(srv), srv.Client()).IssueLabel(context.Background(), &returns.Request{ID: "r"})
	require.Error(t, err)
}

func TestNotifyClient_Send(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		resp    string
		wantErr string
	}{
		{name: "sent", status: http.StatusOK, resp: `{"status":"sent"}`},
		{name: "accepted without body", status: http.StatusAccepted, resp: ``},
		{name: "dispatcher failure", status: http.StatusOK, resp: `{"status":"failed","error":"mailbox full"}`, wantErr: "mailbox full"},
		{name: "http failure", status: http.StatusInternalServerError, resp: `oops`, wantErr: "responded 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := fakeService(t, "/messages", tt.status, tt.resp, &body)
			err := NewNotifyClient(endpoint(srv), srv.Client()).
				Send(context.Background(), returns.ChannelSMS, "+573001112233", "hello")

			assert.Equal(t, "sms", body["channel"])
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	assert.NoError(t, n.Send(context.Background(), returns.ChannelEmail, "a@b.c", "hi"))
}

func TestEndpoint_Configured(t *testing.T) {
	assert.False(t, Endpoint{}.Configured())
	assert.True(t, Endpoint{URL: "http://orders"}.Configured())
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewOrderClient(Endpoint{}, http.DefaultClient)
	_, err := c.ValidateOrder(context.Background(), "ORD-1", "a@b.c")

	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "orders", cErr.Service)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
