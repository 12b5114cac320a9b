package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LinkManager signs and verifies capability-link bearer tokens: short-lived
// RS256 JWTs that grant read-only access to a single run's event stream
// without a UI session, for sharing a live run with someone who has no
// account (§4.1 capability tokens generalized to a link-shaped bearer).
type LinkManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
}

// LinkClaims is embedded in every capability-link token.
type LinkClaims struct {
	jwt.RegisteredClaims
	RunID string `json:"run_id"`
	Scope string `json:"scope"`
}

const linkKeyBits = 2048

// NewLinkManagerFromFiles loads an RSA key pair from PEM files on disk, for
// deployments that want link tokens to survive a restart.
func NewLinkManagerFromFiles(privateKeyPath, publicKeyPath, issuer string) (*LinkManager, error) {
	privBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("auth: reading link private key: %w", err)
	}
	pubBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("auth: reading link public key: %w", err)
	}
	return newLinkManagerFromPEM(privBytes, pubBytes, issuer)
}

// NewLinkManagerGenerated creates a LinkManager with a freshly generated RSA
// key pair. Existing links are invalidated on restart — acceptable for a
// single-instance gateway, since links are meant to be short-lived anyway.
func NewLinkManagerGenerated(issuer string) (*LinkManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, linkKeyBits)
	if err != nil {
		return nil, fmt.Errorf("auth: generating link RSA key pair: %w", err)
	}
	return &LinkManager{privateKey: key, publicKey: &key.PublicKey, issuer: issuer}, nil
}

func newLinkManagerFromPEM(privatePEM, publicPEM []byte, issuer string) (*LinkManager, error) {
	privBlock, _ := pem.Decode(privatePEM)
	if privBlock == nil {
		return nil, errors.New("auth: failed to decode link private key PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing link private key: %w", err)
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("auth: link private key is not an RSA key")
	}

	pubBlock, _ := pem.Decode(publicPEM)
	if pubBlock == nil {
		return nil, errors.New("auth: failed to decode link public key PEM block")
	}
	pubInterface, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing link public key: %w", err)
	}
	publicKey, ok := pubInterface.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("auth: link public key is not an RSA key")
	}

	return &LinkManager{privateKey: privateKey, publicKey: publicKey, issuer: issuer}, nil
}

// IssueLink signs a read-only capability link for runID, valid for ttl.
func (m *LinkManager) IssueLink(runID, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		RunID: runID,
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: signing capability link: %w", err)
	}
	return signed, nil
}

// VerifyLink parses and validates a capability-link token, rejecting
// anything not signed with RS256 to block algorithm-confusion attacks.
func (m *LinkManager) VerifyLink(tokenString string) (*LinkClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&LinkClaims{},
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
				return nil, fmt.Errorf("auth: unexpected link signing method: %v", t.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLinkExpired
		}
		return nil, ErrLinkInvalid
	}
	claims, ok := token.Claims.(*LinkClaims)
	if !ok || !token.Valid {
		return nil, ErrLinkInvalid
	}
	return claims, nil
}
