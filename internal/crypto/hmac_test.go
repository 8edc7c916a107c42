package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersAtSignsTimestampMethodPath(t *testing.T) {
	h := &HMACAuth{Key: "key-1", Secret: "shh"}
	headers := h.HeadersAt("GET", "/v1/quote?symbol=BTCUSDT", 1700000000)

	assert.Equal(t, "key-1", headers[HeaderAPIKey])
	assert.Equal(t, "1700000000", headers[HeaderTimestamp])
	assert.True(t, Verify("shh", "1700000000GET/v1/quote?symbol=BTCUSDT", headers[HeaderSignature]))
	assert.False(t, Verify("other", "1700000000GET/v1/quote?symbol=BTCUSDT", headers[HeaderSignature]))
	assert.False(t, Verify("shh", "1700000001GET/v1/quote?symbol=BTCUSDT", headers[HeaderSignature]))
}

func TestSignIsDeterministic(t *testing.T) {
	assert.Equal(t, Sign("k", "msg"), Sign("k", "msg"))
	assert.NotEqual(t, Sign("k", "msg"), Sign("k", "msg2"))
	assert.False(t, Verify("k", "msg", "not base64!"))
}

func TestStringRedactsSecrets(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "xyz"}
	assert.Equal(t, "HMACAuth{key=abcd****, secret=****}", h.String())
}
