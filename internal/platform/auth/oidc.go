package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Transient cookies carrying the login handshake between the /auth/login
// redirect and the /auth/callback exchange.
const (
	cookieOIDCState    = "verdict_oidc_state"
	cookieOIDCVerifier = "verdict_oidc_verifier"
	cookieOIDCNonce    = "verdict_oidc_nonce"
	cookieReturnTo     = "verdict_return_to"
)

const exchangeTimeout = 10 * time.Second

// OIDCService authenticates bearer tokens and session cookies against one
// OIDC provider, and serves the authorization-code login flow with PKCE.
type OIDCService struct {
	cfg          Config
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

func NewOIDCService(ctx context.Context, cfg Config) (*OIDCService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &OIDCService{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		},
	}, nil
}

// Authenticate accepts either an Authorization bearer token or the session
// cookie set by the callback handler.
func (s *OIDCService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		rawToken = tokenFromCookie(r, s.cfg.SessionCookieName)
	}
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	return s.identityFromToken(idToken)
}

func (s *OIDCService) identityFromToken(idToken *oidc.IDToken) (Identity, error) {
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}
	subject, _ := claims["sub"].(string)
	return Identity{
		Subject: subject,
		Email:   extractStringClaim(claims, s.cfg.EmailClaim),
		Roles:   extractRolesClaim(claims, s.cfg.RolesClaim),
	}, nil
}

// loginAttempt holds the per-attempt secrets minted at /auth/login and
// checked back at /auth/callback.
type loginAttempt struct {
	State    string
	Verifier string
	Nonce    string
}

func newLoginAttempt() (loginAttempt, error) {
	var attempt loginAttempt
	for _, field := range []*string{&attempt.State, &attempt.Verifier, &attempt.Nonce} {
		value, err := randomBase64URL(32)
		if err != nil {
			return loginAttempt{}, err
		}
		*field = value
	}
	return attempt, nil
}

func (a loginAttempt) challenge() string {
	return pkceS256Challenge(a.Verifier)
}

func (s *OIDCService) LoginHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := safeReturnTo(r.URL.Query().Get("return_to"))

		attempt, err := newLoginAttempt()
		if err != nil {
			authError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		setShortCookie(w, cookieOIDCState, attempt.State, s.cfg)
		setShortCookie(w, cookieOIDCVerifier, attempt.Verifier, s.cfg)
		setShortCookie(w, cookieOIDCNonce, attempt.Nonce, s.cfg)
		setShortCookie(w, cookieReturnTo, returnTo, s.cfg)

		redirectURL := s.oauth2Config.AuthCodeURL(
			attempt.State,
			oauth2.AccessTypeOnline,
			oauth2.SetAuthURLParam("code_challenge", attempt.challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
			oauth2.SetAuthURLParam("nonce", attempt.Nonce),
		)
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}, nil
}

func (s *OIDCService) CallbackHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		stateQuery := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if stateQuery == "" || code == "" {
			authError(w, http.StatusBadRequest, "missing_code_or_state")
			return
		}

		attempt := loginAttempt{
			State:    tokenFromCookie(r, cookieOIDCState),
			Verifier: tokenFromCookie(r, cookieOIDCVerifier),
			Nonce:    tokenFromCookie(r, cookieOIDCNonce),
		}
		if attempt.State == "" || attempt.State != stateQuery {
			authError(w, http.StatusBadRequest, "invalid_state")
			return
		}
		if attempt.Verifier == "" || attempt.Nonce == "" {
			authError(w, http.StatusBadRequest, "missing_pkce_or_nonce")
			return
		}
		returnTo := safeReturnTo(tokenFromCookie(r, cookieReturnTo))

		exchangeCtx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
		defer cancel()

		token, err := s.oauth2Config.Exchange(exchangeCtx, code, oauth2.SetAuthURLParam("code_verifier", attempt.Verifier))
		if err != nil {
			authError(w, http.StatusUnauthorized, "token_exchange_failed")
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			authError(w, http.StatusUnauthorized, "missing_id_token")
			return
		}

		idToken, err := s.verifier.Verify(exchangeCtx, rawIDToken)
		if err != nil {
			authError(w, http.StatusUnauthorized, "invalid_id_token")
			return
		}

		var nonceClaim struct {
			Nonce string `json:"nonce"`
		}
		if err := idToken.Claims(&nonceClaim); err != nil {
			authError(w, http.StatusUnauthorized, "invalid_id_token_claims")
			return
		}
		if nonceClaim.Nonce == "" || nonceClaim.Nonce != attempt.Nonce {
			authError(w, http.StatusUnauthorized, "invalid_nonce")
			return
		}

		setSessionCookie(w, s.cfg.SessionCookieName, rawIDToken, s.cfg)
		for _, name := range []string{cookieOIDCState, cookieOIDCVerifier, cookieOIDCNonce, cookieReturnTo} {
			clearCookie(w, name, s.cfg)
		}

		http.Redirect(w, r, returnTo, http.StatusFound)
	}, nil
}

func (s *OIDCService) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clearCookie(w, s.cfg.SessionCookieName, s.cfg)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func (s *OIDCService) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.Authenticate(r.Context(), r)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				authError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			authError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subject": identity.Subject,
			"email":   identity.Email,
			"roles":   identity.Roles,
		})
	}
}

func authError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

func tokenFromHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenFromCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func randomBase64URL(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("nBytes must be positive")
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// safeReturnTo confines post-login redirects to same-origin paths.
func safeReturnTo(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.Path
}

func setShortCookie(w http.ResponseWriter, name string, value string, cfg Config) {
	setCookie(w, name, value, 10*time.Minute, cfg)
}

func setSessionCookie(w http.ResponseWriter, name string, value string, cfg Config) {
	setCookie(w, name, value, cfg.SessionCookieMaxAge, cfg)
}

func clearCookie(w http.ResponseWriter, name string, cfg Config) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.SessionCookieSecure,
		SameSite: parseSameSite(cfg.SessionCookieSameSite),
	})
}

func setCookie(w http.ResponseWriter, name string, value string, ttl time.Duration, cfg Config) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SessionCookieSecure,
		SameSite: parseSameSite(cfg.SessionCookieSameSite),
	})
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func extractStringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractRolesClaim tolerates the claim shapes providers actually emit:
// a JSON array, a pre-decoded string slice, or one comma-separated string.
func extractRolesClaim(claims map[string]any, key string) []string {
	switch typed := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = appendRole(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = appendRole(out, item)
		}
		return out
	case string:
		return parseCSV(typed)
	default:
		return nil
	}
}

func appendRole(roles []string, raw string) []string {
	role := strings.ToLower(strings.TrimSpace(raw))
	if role == "" {
		return roles
	}
	return append(roles, role)
}
