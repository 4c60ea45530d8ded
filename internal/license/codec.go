package license

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DecodeError describes why an encoded payload could not be turned into a
// Payload.
type DecodeError struct {
	Stage string // "base64", "json" or "fields"
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode license payload (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// wirePayload is the JSON shape produced by Encode. Field order is fixed so
// that the same payload always yields the same encoding.
type wirePayload struct {
	MID  string `json:"mid"`
	Type string `json:"type"`
	Exp  *int64 `json:"exp,omitempty"`
	V    int    `json:"v,omitempty"`
}

// wireInput is the permissive shape used by Decode. Pointers distinguish
// missing fields from zero values; unknown fields are ignored.
type wireInput struct {
	MID  *string      `json:"mid"`
	Type *string      `json:"type"`
	Exp  *json.Number `json:"exp"`
	V    *json.Number `json:"v"`
}

// Encode serializes p into the transport form used as the first half of a
// token. The output alphabet is standard base64 and never contains the token
// separator.
func Encode(p Payload) (string, error) {
	if err := p.check(); err != nil {
		return "", fmt.Errorf("encode license payload: %w", err)
	}

	w := wirePayload{
		MID:  p.DeviceID,
		Type: string(p.Type),
	}
	if p.Type == TypeTimeLimited {
		ms := p.ExpiresAt.UnixMilli()
		w.Exp = &ms
	}
	if p.Version != 0 {
		w.V = p.Version
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode license payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses an encoded payload. Padding is optional so that tokens
// retyped without trailing '=' still decode.
func Decode(encoded string) (Payload, error) {
	if encoded == "" {
		return Payload{}, &DecodeError{Stage: "base64", Err: fmt.Errorf("empty payload")}
	}

	raw, err := base64.RawStdEncoding.Strict().DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return Payload{}, &DecodeError{Stage: "base64", Err: err}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Payload{}, &DecodeError{Stage: "json", Err: fmt.Errorf("payload is not a JSON object")}
	}

	var in wireInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return Payload{}, &DecodeError{Stage: "json", Err: err}
	}

	p, err := in.payload()
	if err != nil {
		return Payload{}, &DecodeError{Stage: "fields", Err: err}
	}
	return p, nil
}

func (in wireInput) payload() (Payload, error) {
	if in.MID == nil || *in.MID == "" {
		return Payload{}, fmt.Errorf("missing mid")
	}
	if in.Type == nil {
		return Payload{}, fmt.Errorf("missing type")
	}

	p := Payload{
		DeviceID: *in.MID,
		Type:     Type(*in.Type),
	}

	if in.V != nil {
		v, err := integerMillis(*in.V)
		if err != nil {
			return Payload{}, fmt.Errorf("invalid v: %w", err)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return Payload{}, fmt.Errorf("invalid v: out of range")
		}
		p.Version = int(v)
	}

	if p.Type == TypeTimeLimited && in.Exp != nil {
		ms, err := integerMillis(*in.Exp)
		if err != nil {
			return Payload{}, fmt.Errorf("invalid exp: %w", err)
		}
		expiresAt := time.UnixMilli(ms).UTC()
		p.ExpiresAt = &expiresAt
	}

	if err := p.check(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// integerMillis accepts JSON numbers written either as integers or as floats
// with no fractional part (1.7e12).
func integerMillis(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%s is not an integer", n.String())
	}
	return int64(f), nil
}
