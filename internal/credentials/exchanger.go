package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
	defaultExpiresIn   = 3600
)

// MessagingScopes are the scopes the FCM v1 API requires.
var MessagingScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/firebase.messaging",
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Exchanger trades a self-signed assertion for a bearer credential.
// It makes exactly one call per AcquireToken and never caches.
type Exchanger struct {
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// DefaultExchangeTimeout bounds a single token endpoint call.
const DefaultExchangeTimeout = 10 * time.Second

// NewExchanger creates an exchanger whose token calls are bounded by timeout.
func NewExchanger(httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Exchanger{
		httpClient: httpClient,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger.With("component", "CredentialExchanger"),
	}
}

// AcquireToken signs an assertion for sa and exchanges it at sa.TokenURI.
func (e *Exchanger) AcquireToken(ctx context.Context, sa dispatch.ServiceAccount) (dispatch.BearerCredential, error) {
	start := time.Now()
	cred, err := e.acquire(ctx, sa)
	credentialExchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		credentialExchangesCounter.WithLabelValues("error").Inc()
		return cred, err
	}
	credentialExchangesCounter.WithLabelValues("success").Inc()
	return cred, nil
}

func (e *Exchanger) acquire(ctx context.Context, sa dispatch.ServiceAccount) (dispatch.BearerCredential, error) {
	tokenURI := sa.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}

	now := e.now()
	assertion, err := SignAssertion(sa, tokenURI, now)
	if err != nil {
		return dispatch.BearerCredential{}, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return dispatch.BearerCredential{}, &dispatch.CredentialError{Reason: "invalid token endpoint", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return dispatch.BearerCredential{}, &dispatch.CredentialError{Reason: "token exchange transport failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dispatch.BearerCredential{}, &dispatch.CredentialError{Reason: "failed to read token response", Err: err}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		e.logger.Error("Token exchange returned no access token", "status", resp.StatusCode, "client_email", sa.ClientEmail)
		return dispatch.BearerCredential{}, &dispatch.CredentialError{
			Reason: fmt.Sprintf("no access_token in response (status %d)", resp.StatusCode),
			Body:   string(body),
		}
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	e.logger.Debug("Bearer credential acquired", "client_email", sa.ClientEmail, "expires_in", expiresIn)

	return dispatch.BearerCredential{
		AccessToken: tr.AccessToken,
		ExpiresAt:   now.Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// SignAssertion builds and RS256-signs the JWT-bearer assertion for sa.
func SignAssertion(sa dispatch.ServiceAccount, audience string, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", &dispatch.CredentialError{Reason: "private key could not be imported", Err: err}
	}

	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"sub":   sa.ClientEmail,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
		"scope": strings.Join(MessagingScopes, " "),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if sa.PrivateKeyID != "" {
		token.Header["kid"] = sa.PrivateKeyID
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", &dispatch.CredentialError{Reason: "failed to sign assertion", Err: err}
	}
	return signed, nil
}
