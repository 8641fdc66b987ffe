package signing

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/klppl/gathernet/internal/apperr"
)

// maxDateSkew is the maximum allowed difference between a signed request's
// Date header and the server's current time. Federated instance clocks
// drift more than same-datacenter clocks, so this is generous (±12h)
// compared to a typical single-deployment signer.
const maxDateSkew = 12 * time.Hour

// Sign adds Digest, Host, Date, and Signature headers to req and signs it
// with priv under keyID (by convention "<actorUrl>#main-key"). req.URL and
// req.Method must already be set; body is the exact bytes that will be sent.
func Sign(req *http.Request, body []byte, keyID string, priv *rsa.PrivateKey) error {
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	// httpsig computes Digest itself and refuses a request that already has one.
	req.Header.Del("Digest")

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}
	if err := signer.SignRequest(priv, keyID, req, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}

// VerifyDigest checks that the Digest header matches the SHA-256 hash of
// body. An absent header is treated as valid (digest is optional); an
// unrecognized algorithm is skipped rather than rejected.
func VerifyDigest(body []byte, digestHeader string) *apperr.Error {
	if digestHeader == "" {
		return nil
	}
	const prefix = "SHA-256="
	if !strings.HasPrefix(digestHeader, prefix) {
		return nil
	}
	sum := sha256.Sum256(body)
	got := base64.StdEncoding.EncodeToString(sum[:])
	want := digestHeader[len(prefix):]
	if got != want {
		return apperr.BadDigestErr(fmt.Sprintf("digest mismatch: body SHA-256=%s, header claims SHA-256=%s", got, want))
	}
	return nil
}

// PublicKeyResolver resolves a signature's keyId (typically "<actorURL>#main-key")
// to the actor's current RSA public key.
type PublicKeyResolver func(ctx context.Context, keyID string) (*rsa.PublicKey, error)

// Verify checks an inbound request's Digest and Signature headers: digest
// mismatch → BAD_DIGEST, stale Date → STALE, unresolvable key → UNKNOWN_KEY,
// signature mismatch → BAD_SIGNATURE. Returns the verified keyId on success.
func Verify(req *http.Request, body []byte, resolve PublicKeyResolver) (string, *apperr.Error) {
	if err := VerifyDigest(body, req.Header.Get("Digest")); err != nil {
		return "", err
	}

	dateStr := req.Header.Get("Date")
	if dateStr == "" {
		return "", apperr.StaleErr("missing Date header")
	}
	reqTime, err := http.ParseTime(dateStr)
	if err != nil {
		return "", apperr.StaleErr(fmt.Sprintf("invalid Date header %q", dateStr))
	}
	if skew := time.Since(reqTime); skew > maxDateSkew || skew < -maxDateSkew {
		return "", apperr.StaleErr(fmt.Sprintf("Date header too skewed (%v, allowed ±%v)", skew.Round(time.Second), maxDateSkew))
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", apperr.BadSignatureErr(fmt.Sprintf("create verifier: %v", err))
	}
	keyID := verifier.KeyId()

	pubKey, err := resolve(req.Context(), keyID)
	if err != nil {
		return keyID, apperr.UnknownKeyErr(fmt.Sprintf("resolve key %s: %v", keyID, err))
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", apperr.BadSignatureErr(fmt.Sprintf("signature verification failed: %v", err))
	}
	return keyID, nil
}

// ActorURLFromKeyID strips the "#main-key" (or any "#fragment") suffix from
// a keyId to recover the actor URL.
func ActorURLFromKeyID(keyID string) string {
	return strings.Split(keyID, "#")[0]
}
