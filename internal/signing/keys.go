// Package signing implements HTTP Message Signatures (draft-cavage style,
// RSA-SHA256) for outbound activity delivery and inbound verification.
package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
)

// KeyPair holds an RSA key pair used for HTTP Message Signatures.
type KeyPair struct {
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
	PublicPEM string
}

// GenerateKeyPair creates a fresh 2048-bit RSA key pair, used when a local
// user is registered.
func GenerateKeyPair() (*KeyPair, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return &KeyPair{
		Private:   privKey,
		Public:    &privKey.PublicKey,
		PublicPEM: string(pubPEM),
	}, nil
}

// EncodePrivatePEM returns the PKCS1 PEM encoding of the private key, for
// storage alongside the user row.
func EncodePrivatePEM(priv *rsa.PrivateKey) string {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	return string(pem.EncodeToMemory(block))
}

// ParsePrivatePEM parses a PKCS1 PEM-encoded RSA private key.
func ParsePrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ParsePublicPEM parses a PKIX PEM-encoded RSA public key, as published in
// an actor's publicKeyPem field.
func ParsePublicPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

// LoadOrGenerateKeyPair loads the instance (service actor) RSA key pair from
// PEM files, generating and persisting a new one if absent.
func LoadOrGenerateKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		slog.Info("RSA key pair not found, generating new one", "private", privatePath, "public", publicPath)
		return generateAndSaveKeyPair(privatePath, publicPath)
	}

	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return parseKeyPairPEM(privPEM, pubPEM)
}

func generateAndSaveKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	privPEM := EncodePrivatePEM(kp.Private)
	if err := os.WriteFile(privatePath, []byte(privPEM), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, []byte(kp.PublicPEM), 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	slog.Info("generated RSA key pair", "private", privatePath, "public", publicPath)
	return kp, nil
}

func parseKeyPairPEM(privPEM, pubPEM []byte) (*KeyPair, error) {
	priv, err := ParsePrivatePEM(string(privPEM))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := ParsePublicPEM(string(pubPEM))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &KeyPair{Private: priv, Public: pub, PublicPEM: string(pubPEM)}, nil
}
