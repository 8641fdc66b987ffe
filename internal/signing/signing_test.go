package signing

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func signedRequest(t *testing.T, kp *KeyPair, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "https://remote.example/inbox", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Digest", digest(body))
	require.NoError(t, Sign(req, body, "https://local.example/users/alice#main-key", kp.Private))
	return req
}

func TestSignThenVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, kp, body)

	resolve := func(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
		assert.Equal(t, "https://local.example/users/alice#main-key", keyID)
		return kp.Public, nil
	}

	keyID, verr := Verify(req, body, resolve)
	require.Nil(t, verr)
	assert.Equal(t, "https://local.example/users/alice#main-key", keyID)
}

func TestVerifyBadDigest(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, kp, body)

	tampered := []byte(`{"type":"Delete"}`)
	_, verr := Verify(req, tampered, func(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
		return kp.Public, nil
	})
	require.NotNil(t, verr)
	assert.Equal(t, "BAD_DIGEST", string(verr.Code))
}

func TestVerifyStaleDate(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, kp, body)
	req.Header.Set("Date", time.Now().Add(-13*time.Hour).UTC().Format(http.TimeFormat))

	_, verr := Verify(req, body, func(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
		return kp.Public, nil
	})
	require.NotNil(t, verr)
	assert.Equal(t, "STALE", string(verr.Code))
}

func TestVerifyUnknownKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"type":"Follow"}`)
	req := signedRequest(t, kp, body)

	_, verr := Verify(req, body, func(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
		return nil, assert.AnError
	})
	require.NotNil(t, verr)
	assert.Equal(t, "UNKNOWN_KEY", string(verr.Code))
}
