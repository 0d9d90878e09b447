package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig holds configuration for the browser login flow.
type OIDCConfig struct {
	Issuer         string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string // empty = any email domain
	Scopes         []string // additional scopes beyond "openid" (default: ["profile", "email"])
}

func (c OIDCConfig) scopes() []string {
	scopes := []string{oidc.ScopeOpenID}
	if len(c.Scopes) > 0 {
		return append(scopes, c.Scopes...)
	}
	return append(scopes, "profile", "email")
}

// OIDCClaims is the identity extracted from a verified ID token.
type OIDCClaims struct {
	Subject string
	Email   string
	Name    string
}

// CodeExchangeResult contains the outcome of an authorization code exchange.
type CodeExchangeResult struct {
	Claims       OIDCClaims
	RefreshToken string
}

// OIDCAuthenticator abstracts the OIDC login flow so the API layer and tests
// don't depend on a live provider.
type OIDCAuthenticator interface {
	// AuthCodeURL builds the provider's authorization URL. The returned nonce
	// must be stored and passed to ExchangeCode to prevent ID token replay.
	AuthCodeURL(state string) (authURL, nonce string)
	// ExchangeCode exchanges an authorization code for a verified identity.
	ExchangeCode(ctx context.Context, code, expectedNonce string) (*CodeExchangeResult, error)
	// Revalidate uses a stored refresh token to verify the user is still
	// active at the provider.
	Revalidate(ctx context.Context, refreshToken string) error
}

// oidcVerifier abstracts ID token verification for both production and tests.
type oidcVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (map[string]any, error)
}

type goOIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *goOIDCVerifier) Verify(ctx context.Context, rawIDToken string) (map[string]any, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	return claims, nil
}

type oidcAuthenticator struct {
	config       OIDCConfig
	verifier     oidcVerifier
	oauth2Config oauth2.Config
}

// NewOIDCAuthenticator creates an authenticator using go-oidc discovery.
func NewOIDCAuthenticator(ctx context.Context, config OIDCConfig) (OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", config.Issuer, err)
	}
	return &oidcAuthenticator{
		config:   config,
		verifier: &goOIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID})},
		oauth2Config: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       config.scopes(),
		},
	}, nil
}

func (a *oidcAuthenticator) AuthCodeURL(state string) (string, string) {
	nonce := generateOIDCNonce()
	url := a.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	return url, nonce
}

func generateOIDCNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (a *oidcAuthenticator) ExchangeCode(ctx context.Context, code, expectedNonce string) (*CodeExchangeResult, error) {
	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token in token response")
	}

	claims, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	if expectedNonce != "" {
		nonce, _ := claims["nonce"].(string)
		if nonce != expectedNonce {
			return nil, errors.New("id token nonce mismatch")
		}
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return nil, errors.New("id token has no email claim")
	}
	if err := checkEmailDomain(a.config.AllowedDomains, email); err != nil {
		return nil, err
	}
	name, _ := claims["name"].(string)
	sub, _ := claims["sub"].(string)

	return &CodeExchangeResult{
		Claims:       OIDCClaims{Subject: sub, Email: email, Name: name},
		RefreshToken: token.RefreshToken,
	}, nil
}

// Revalidate attempts a refresh-token grant. A provider that has deactivated
// the user rejects the refresh, which the caller treats as session
// revocation.
func (a *oidcAuthenticator) Revalidate(ctx context.Context, refreshToken string) error {
	ts := a.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	if _, err := ts.Token(); err != nil {
		return fmt.Errorf("refresh token rejected: %w", err)
	}
	return nil
}

func checkEmailDomain(allowedDomains []string, email string) error {
	if len(allowedDomains) == 0 {
		return nil
	}
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return fmt.Errorf("malformed email: %q", email)
	}
	for _, d := range allowedDomains {
		if strings.EqualFold(domain, d) {
			return nil
		}
	}
	return fmt.Errorf("email domain %q is not allowed", domain)
}
