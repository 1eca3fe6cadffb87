package caip

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource mints bearer tokens for the training API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken adapts an externally-obtained token (gcloud, metadata
// server) as a TokenSource.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

const scopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"

// ServiceAccountKey is the relevant subset of a service-account JSON
// key file.
type ServiceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

func LoadServiceAccountKey(path string) (ServiceAccountKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccountKey{}, fmt.Errorf("read service account key: %w", err)
	}
	key := ServiceAccountKey{}
	if err := json.Unmarshal(raw, &key); err != nil {
		return ServiceAccountKey{}, fmt.Errorf("parse service account key: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" || key.TokenURI == "" {
		return ServiceAccountKey{}, fmt.Errorf("service account key %s: missing fields", path)
	}
	return key, nil
}

// saTokenSource exchanges an RS256-signed JWT assertion for an access
// token at the service account's token endpoint, caching it until
// shortly before expiry.
type saTokenSource struct {
	email    string
	key      *rsa.PrivateKey
	tokenURI string
	client   *http.Client

	mu      sync.Mutex
	cached  string
	expires time.Time
}

func NewServiceAccountTokenSource(key ServiceAccountKey, client *http.Client) (TokenSource, error) {
	parsed, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account private key: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &saTokenSource{
		email:    key.ClientEmail,
		key:      parsed,
		tokenURI: key.TokenURI,
		client:   client,
	}, nil
}

func (s *saTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" && time.Now().Before(s.expires) {
		return s.cached, nil
	}

	now := time.Now()
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   s.email,
		"scope": scopeCloudPlatform,
		"aud":   s.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.tokenURI, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange token assertion: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint answered %s", resp.Status)
	}

	payload := struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint answered no token")
	}

	s.cached = payload.AccessToken
	// refresh a minute early, to not race the expiry on the wire
	s.expires = now.Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)
	return s.cached, nil
}
