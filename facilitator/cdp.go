package facilitator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// CDPAuth signs short-lived JWTs for the Coinbase Developer Platform hosted
// facilitator. It is safe for concurrent use.
type CDPAuth struct {
	keyName    string
	privateKey interface{}
	lifetime   time.Duration
	now        func() time.Time
}

type cdpClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

// NewCDPAuth parses the API key secret. The secret may be a PEM block or the
// bare base64 DER form the CDP console hands out.
func NewCDPAuth(keyName, keySecret string) (*CDPAuth, error) {
	if keyName == "" {
		return nil, fmt.Errorf("cdp api key name must not be empty")
	}

	der, err := secretDER(keySecret)
	if err != nil {
		return nil, err
	}

	var key interface{}
	if key, err = x509.ParseECPrivateKey(der); err != nil {
		if key, err = x509.ParsePKCS8PrivateKey(der); err != nil {
			return nil, fmt.Errorf("failed to parse cdp private key: %w", err)
		}
	}

	switch key.(type) {
	case *ecdsa.PrivateKey, crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported cdp private key type %T", key)
	}

	return &CDPAuth{
		keyName:    keyName,
		privateKey: key,
		lifetime:   2 * time.Minute,
		now:        time.Now,
	}, nil
}

func secretDER(secret string) ([]byte, error) {
	secret = strings.TrimSpace(strings.ReplaceAll(secret, `\n`, "\n"))
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("cdp api key secret is neither PEM nor base64")
	}
	return der, nil
}

// Token returns a signed bearer token for one request.
func (a *CDPAuth) Token(method, host, path string) (string, error) {
	alg := jose.EdDSA
	if _, ok := a.privateKey.(*ecdsa.PrivateKey); ok {
		alg = jose.ES256
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).
			WithType("JWT").
			WithHeader("kid", a.keyName).
			WithHeader("nonce", fmt.Sprintf("%x", nonce)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := cdpClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "coinbase-cloud",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(a.lifetime)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

// Provider adapts the signer to an AuthorizationProvider. A signing failure
// yields an empty header and the facilitator will answer 401.
func (a *CDPAuth) Provider() AuthorizationProvider {
	return func(req *http.Request) string {
		token, err := a.Token(req.Method, req.URL.Host, req.URL.Path)
		if err != nil {
			return ""
		}
		return "Bearer " + token
	}
}
