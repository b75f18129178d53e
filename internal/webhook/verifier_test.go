package webhook

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/eventlog"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestVerifier(secrets map[payment.Gateway]string) (*Verifier, *eventlog.MemoryLog) {
	log := eventlog.NewMemory()
	v := NewVerifier(secrets, 0, eventlog.NewRecorder(log, nil, nil), nil)
	v.now = func() time.Time { return testNow }
	return v, log
}

func signedHeaders(secret string, ts time.Time, requestID string, payload []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderRequestID, requestID)
	h.Set(HeaderSignature, SignatureHeader(secret, ts.Unix(), requestID, payload))
	return h
}

func TestVerifier_ValidSignature(t *testing.T) {
	v, log := newTestVerifier(map[payment.Gateway]string{payment.GatewayCheckout: testSecret})
	payload := []byte(`{"id":"evt_1"}`)

	res := v.Validate(context.Background(), "checkout", payload, signedHeaders(testSecret, testNow, "req-1", payload))

	require.True(t, res.Valid, res.Error)
	assert.Equal(t, testNow, res.Timestamp)
	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, eventlog.WebhookProcessed, entries[0].Event)
	assert.Equal(t, "req-1", entries[0].RequestID)
}

func TestVerifier_FlippedByteRejected(t *testing.T) {
	v, _ := newTestVerifier(map[payment.Gateway]string{payment.GatewayCheckout: testSecret})
	payload := []byte(`{"id":"evt_1","data":{"status":"approved"}}`)
	sig := Sign(testSecret, testNow.Unix(), "req-1", payload)

	for i := range len(sig) {
		flipped := []byte(sig)
		flipped[i] ^= 0x01
		h := http.Header{}
		h.Set(HeaderRequestID, "req-1")
		h.Set(HeaderSignature, "ts="+strconv.FormatInt(testNow.Unix(), 10)+",v1="+string(flipped))

		res := v.Validate(context.Background(), "checkout", payload, h)
		assert.False(t, res.Valid, "byte %d", i)
	}
}

func TestVerifier_TamperedInputsRejected(t *testing.T) {
	v, _ := newTestVerifier(map[payment.Gateway]string{payment.GatewayCheckout: testSecret})
	payload := []byte(`{"id":"evt_1"}`)
	h := signedHeaders(testSecret, testNow, "req-1", payload)

	res := v.Validate(context.Background(), "checkout", []byte(`{"id":"evt_2"}`), h)
	assert.ErrorIs(t, res.Err, ErrInvalidSignature)

	other := h.Clone()
	other.Set(HeaderRequestID, "req-2")
	res = v.Validate(context.Background(), "checkout", payload, other)
	assert.ErrorIs(t, res.Err, ErrInvalidSignature)
}

func TestVerifier_Freshness(t *testing.T) {
	v, _ := newTestVerifier(map[payment.Gateway]string{payment.GatewayCheckout: testSecret})
	payload := []byte(`{}`)

	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{name: "just inside past", offset: -5 * time.Minute},
		{name: "just inside future", offset: 5 * time.Minute},
		{name: "stale", offset: -5*time.Minute - time.Second, wantErr: ErrStaleTimestamp},
		{name: "from the future", offset: 6 * time.Minute, wantErr: ErrStaleTimestamp},
		{name: "a day old", offset: -24 * time.Hour, wantErr: ErrStaleTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := testNow.Add(tt.offset)
			res := v.Validate(context.Background(), "checkout", payload, signedHeaders(testSecret, ts, "r", payload))
			if tt.wantErr == nil {
				assert.True(t, res.Valid, res.Error)
				return
			}
			assert.False(t, res.Valid)
			assert.ErrorIs(t, res.Err, tt.wantErr)
		})
	}
}

func TestVerifier_MissingSecret(t *testing.T) {
	v, log := newTestVerifier(map[payment.Gateway]string{payment.GatewayCheckout: testSecret})
	payload := []byte(`{}`)

	res := v.Validate(context.Background(), "mobile", payload, signedHeaders("", testNow, "r", payload))

	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, ErrMissingSecret)
	assert.Equal(t, []eventlog.Event{eventlog.ConfigError, eventlog.WebhookFailed}, log.Events())
}

func TestVerifier_UnknownGateway(t *testing.T) {
	v, _ := newTestVerifier(map[payment.Gateway]string{payment.GatewayCheckout: testSecret})
	payload := []byte(`{}`)

	res := v.Validate(context.Background(), "paypal", payload, signedHeaders(testSecret, testNow, "r", payload))
	assert.ErrorIs(t, res.Err, payment.ErrUnsupportedGateway)
}

func TestParseSignature(t *testing.T) {
	good := Sign(testSecret, 1, "", nil)

	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{name: "valid", header: "ts=1,v1=" + good, wantOK: true},
		{name: "spaces and order", header: " v1=" + good + " , ts=1", wantOK: true},
		{name: "empty", header: ""},
		{name: "missing ts", header: "v1=" + good},
		{name: "missing v1", header: "ts=1"},
		{name: "non numeric ts", header: "ts=abc,v1=" + good},
		{name: "non hex v1", header: "ts=1,v1=zz"},
		{name: "short v1", header: "ts=1,v1=abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseSignature(tt.header)
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformedSignature)
		})
	}
}
