package serde

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curvehq/curve-events/internal/event"
	"github.com/curvehq/curve-events/internal/redact"
)

type signupPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email" redact:"strategy=mask,type=email,level=normal"`
}

func (signupPayload) EventType() string { return "user.signed_up" }

func testEnvelope(t *testing.T, payload any) *event.Envelope {
	t.Helper()
	source, err := event.NewSource("accounts")
	require.NoError(t, err)
	source.Environment = "prod"
	schema, err := event.NewSchemaRef("user.signed_up", 2)
	require.NoError(t, err)

	occurred := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)
	env, err := event.NewEnvelope(
		event.ID{Value: "123456789"},
		event.Type{Value: "user.signed_up"},
		event.SeverityInfo,
		event.NewMetadata(source, event.Actor{ID: "u-9"}, event.Trace{TraceID: "t-1"}, schema, map[string]string{"team": "growth"}),
		payload,
		occurred,
		occurred.Add(5*time.Millisecond),
	)
	require.NoError(t, err)
	return env
}

func newRedactor(t *testing.T) *redact.Redactor {
	t.Helper()
	r, err := redact.New(redact.Config{Salt: "s"})
	require.NoError(t, err)
	return r
}

func TestSerializeWireFormat(t *testing.T) {
	s := NewJSON(newRedactor(t))
	data, err := s.Serialize(testEnvelope(t, signupPayload{UserID: "u-9", Email: "alice@example.com"}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, "123456789", decoded["eventId"].(map[string]any)["value"])
	require.Equal(t, "user.signed_up", decoded["eventType"].(map[string]any)["value"])
	require.Equal(t, "INFO", decoded["severity"])

	meta := decoded["metadata"].(map[string]any)
	require.Equal(t, "accounts", meta["source"].(map[string]any)["service"])
	require.Equal(t, "u-9", meta["actor"].(map[string]any)["id"])
	require.Equal(t, "t-1", meta["trace"].(map[string]any)["traceId"])
	schema := meta["schema"].(map[string]any)
	require.Equal(t, "user.signed_up", schema["name"])
	require.Equal(t, float64(2), schema["version"])
	require.Equal(t, "growth", meta["tags"].(map[string]any)["team"])

	payload := decoded["payload"].(map[string]any)
	require.Equal(t, "u-9", payload["userId"])
	require.Equal(t, "al***@ex*****.com", payload["email"], "email masked at serialization time")

	occurred, err := time.Parse(time.RFC3339Nano, decoded["occurredAt"].(string))
	require.NoError(t, err)
	published, err := time.Parse(time.RFC3339Nano, decoded["publishedAt"].(string))
	require.NoError(t, err)
	require.False(t, occurred.After(published))
}

func TestSerializeUnsupportedPayloadFails(t *testing.T) {
	s := NewJSON(newRedactor(t))
	env := testEnvelope(t, map[string]any{"ch": make(chan int)})

	_, err := s.Serialize(env)
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "user.signed_up", serr.EventType)
}

func TestSerializeCryptoErrorPropagates(t *testing.T) {
	type secretPayload struct {
		Card string `json:"card" redact:"strategy=encrypt"`
	}
	s := NewJSON(newRedactor(t)) // no key configured

	_, err := s.Serialize(testEnvelope(t, secretPayload{Card: "4111"}))
	var cerr *redact.CryptoError
	require.ErrorAs(t, err, &cerr)
}

func TestSerializeEncryptedFieldRoundTrip(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	r, err := redact.New(redact.Config{Key: key, Salt: "s"})
	require.NoError(t, err)

	type secretPayload struct {
		Card string `json:"card" redact:"strategy=encrypt"`
	}
	s := NewJSON(r)
	data, err := s.Serialize(testEnvelope(t, secretPayload{Card: "4111111111111111"}))
	require.NoError(t, err)

	var decoded struct {
		Payload struct {
			Card string `json:"card"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotEqual(t, "4111111111111111", decoded.Payload.Card)

	cipher, err := redact.NewCipher(key, nil)
	require.NoError(t, err)
	plain, err := cipher.Decrypt(decoded.Payload.Card)
	require.NoError(t, err)
	require.Equal(t, "4111111111111111", plain)
}
