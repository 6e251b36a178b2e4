package aibom

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gowebpki/jcs"
)

// SignatureSuffix is appended to the report key for the detached signature.
const SignatureSuffix = ".sig"

// ErrSignatureMismatch means the signature is valid but covers another report.
var ErrSignatureMismatch = errors.New("signature does not match report")

// SignatureClaims binds a signature to a report digest.
type SignatureClaims struct {
	ReportSHA256 string `json:"report_sha256"`
	AgentID      string `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

// Digest returns the hex SHA-256 of the canonical form of an encoded report,
// so whitespace changes do not invalidate a signature.
func Digest(report []byte) (string, error) {
	canonical, err := jcs.Transform(report)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize report: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sign returns a compact EdDSA JWS over the report digest.
func Sign(report []byte, key ed25519.PrivateKey) (string, error) {
	digest, err := Digest(report)
	if err != nil {
		return "", err
	}
	r, err := ParseReport(report)
	if err != nil {
		return "", fmt.Errorf("refusing to sign: %w", err)
	}

	claims := SignatureClaims{
		ReportSHA256: digest,
		AgentID:      r.AgentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "trustplane",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign report: %w", err)
	}
	return signed, nil
}

// VerifySignature checks that signature was produced by pub over report.
func VerifySignature(report []byte, signature string, pub ed25519.PublicKey) error {
	claims := &SignatureClaims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	digest, err := Digest(report)
	if err != nil {
		return err
	}
	if claims.ReportSHA256 != digest {
		return ErrSignatureMismatch
	}
	return nil
}

// GenerateKey writes a new PKCS#8 private key to path and returns the pair.
func GenerateKey(path string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := WriteFileAtomic(path, block, 0600); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// LoadPrivateKey reads a PEM-encoded PKCS#8 Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key %s: no PEM block", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key %s: not an ed25519 key", path)
	}
	return priv, nil
}

// LoadPublicKey reads a PEM-encoded PKIX Ed25519 public key, or derives it
// from a private key file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("public key %s: no PEM block", path)
	}
	if block.Type == "PRIVATE KEY" {
		priv, err := LoadPrivateKey(path)
		if err != nil {
			return nil, err
		}
		return priv.Public().(ed25519.PublicKey), nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", path, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s: not an ed25519 key", path)
	}
	return pub, nil
}
