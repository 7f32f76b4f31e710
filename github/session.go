// Package github implements the code-hosting gateway on the GitHub API.
// Authentication runs as a GitHub App installation; the session wraps the
// token source and the derived API client.
package github

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt"
	"github.com/google/go-github/v69/github"
	"github.com/jferrl/go-githubauth"
	"golang.org/x/oauth2"
)

type Session struct {
	pem       string
	appID     string
	installID string
	auth      *oauth2.Token
	client    *github.Client
}

// NewSession creates a GitHub session using the provided PEM key, App ID
// and Installation ID.
func NewSession(pem, appID, installID string) (*Session, error) {
	session := &Session{
		pem:       pem,
		appID:     appID,
		installID: installID,
	}

	if err := session.authenticate(); err != nil {
		return nil, err
	}

	return session, nil
}

// NewTokenSession creates a GitHub session from a personal access token.
// Useful outside App installations (local development, CI of the service
// itself).
func NewTokenSession(token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	tok := &oauth2.Token{AccessToken: token}
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(tok))
	return &Session{
		auth:   tok,
		client: github.NewClient(httpClient),
	}, nil
}

// AuthToken returns the authentication token.
func (s *Session) AuthToken() *oauth2.Token {
	return s.auth
}

// Client returns the authenticated GitHub client.
func (s *Session) Client() *github.Client {
	return s.client
}

// Authenticate with GitHub using the provided PEM key, App ID and
// Installation ID.
func (s *Session) authenticate() error {
	privateKey := []byte(s.pem)
	if _, err := jwt.ParseRSAPrivateKeyFromPEM(privateKey); err != nil {
		return fmt.Errorf("error creating application token source: invalid private key: %s", err.Error())
	}
	appID, _ := strconv.ParseInt(s.appID, 10, 64)
	installationID, _ := strconv.ParseInt(s.installID, 10, 64)
	appTokenSource, err := githubauth.NewApplicationTokenSource(appID, privateKey)
	if err != nil {
		return fmt.Errorf("error creating application token source: %s", err.Error())
	}
	installationTokenSource := githubauth.NewInstallationTokenSource(installationID, appTokenSource)
	httpClient := oauth2.NewClient(context.Background(), installationTokenSource)
	token, err := installationTokenSource.Token()
	if err != nil {
		return fmt.Errorf("error generating token: %s", err.Error())
	}
	s.client = github.NewClient(httpClient)
	s.auth = token
	return nil
}
