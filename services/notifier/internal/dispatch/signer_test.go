package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignMatchesIndependentComputation(t *testing.T) {
	secret := "s"
	timestamp := "1704456600"
	body := []byte(`{"id":"n-1","type":"change.detected"}`)

	got := Sign(secret, timestamp, body)

	// independent computation over "{timestamp}.{body}"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(body)))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, got)
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.Equal(t, Sign("s", "1704456600", body), Sign("s", "1704456600", body))
}

func TestSignVariesWithInputs(t *testing.T) {
	body := []byte(`{"a":1}`)
	base := Sign("s", "1704456600", body)

	assert.NotEqual(t, base, Sign("other", "1704456600", body))
	assert.NotEqual(t, base, Sign("s", "1704456601", body))
	assert.NotEqual(t, base, Sign("s", "1704456600", []byte(`{"a":2}`)))
}
