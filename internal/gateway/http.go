package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

const maxResponseBytes = 1 << 20

type call struct {
	gateway payment.Gateway
	method  string
	url     string
	headers map[string]string
	body    *jx.Encoder
	// decode reads the response body; nil ignores it.
	decode func(d *jx.Decoder) error
}

// do performs c and maps every failure to a *payment.GatewayError.
func do(ctx context.Context, client *http.Client, c call) error {
	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body.Bytes())
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return &payment.GatewayError{Gateway: c.gateway, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &payment.GatewayError{Gateway: c.gateway, Err: errors.Wrap(err, "send request")}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &payment.GatewayError{Gateway: c.gateway, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &payment.GatewayError{Gateway: c.gateway, StatusCode: resp.StatusCode, Err: providerMessage(raw)}
	}
	if c.decode == nil {
		return nil
	}
	if err := c.decode(jx.DecodeBytes(raw)); err != nil {
		return &payment.GatewayError{Gateway: c.gateway, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

// providerMessage extracts a "message" or "error" field from an error body.
func providerMessage(raw []byte) error {
	var msg string
	d := jx.DecodeBytes(raw)
	if d.Next() == jx.Object {
		_ = d.Obj(func(d *jx.Decoder, key string) error {
			if (key == "message" || key == "error") && d.Next() == jx.String && msg == "" {
				s, err := d.Str()
				msg = s
				return err
			}
			return d.Skip()
		})
	}
	if msg == "" {
		return errors.New("unexpected status")
	}
	return errors.New(msg)
}

func writeDecimal(enc *jx.Encoder, name string, v interface{ String() string }) {
	enc.Field(name, func(enc *jx.Encoder) { enc.Num(jx.Num(v.String())) })
}

func writeStr(enc *jx.Encoder, name, v string) {
	enc.Field(name, func(enc *jx.Encoder) { enc.Str(v) })
}

// decodeStrings reads the named string fields of an object into dst and
// skips everything else.
func decodeStrings(d *jx.Decoder, dst map[string]*string) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		p, ok := dst[key]
		if !ok || d.Next() != jx.String {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		*p = s
		return nil
	})
}
