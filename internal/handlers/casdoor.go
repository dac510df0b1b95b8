// Package handlers exposes the Casdoor login bridge over HTTP: the redirect
// endpoints, the OAuth callback, and the action-dispatched entry point used by
// plugin deployments.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/pysugar/casdoor-dify-bridge/internal/account"
	"github.com/pysugar/casdoor-dify-bridge/internal/auth/token"
	"github.com/pysugar/casdoor-dify-bridge/internal/casdoor"
	"github.com/pysugar/casdoor-dify-bridge/internal/config"
	"github.com/pysugar/casdoor-dify-bridge/internal/logging"
	"github.com/pysugar/casdoor-dify-bridge/internal/util"
)

// stateToken is sent as the OAuth state parameter on authorize redirects.
var stateToken string

func init() {
	b := make([]byte, 16)
	rand.Read(b)
	stateToken = hex.EncodeToString(b)
}

// Deps bundles everything the login flow needs. Constructed once in main and
// passed in explicitly; handlers never reach into ambient state.
type Deps struct {
	Config      *config.Config
	Casdoor     *casdoor.Client
	Verifier    *casdoor.Verifier
	Provisioner *account.Provisioner
	Issuer      *token.Issuer
}

// redirectURI resolves the callback URI for an authorize redirect. A
// redirect_uri query parameter overrides the configured one.
func (d *Deps) redirectURI(r *http.Request) string {
	if uri := r.URL.Query().Get("redirect_uri"); uri != "" {
		return uri
	}
	return d.Config.CallbackURL()
}

// LoginHandler redirects to Casdoor's login authorize endpoint.
func LoginHandler(deps *Deps) http.HandlerFunc {
	return authorizeRedirect(deps, casdoor.AuthLogin)
}

// SignupHandler redirects to Casdoor's signup authorize endpoint.
func SignupHandler(deps *Deps) http.HandlerFunc {
	return authorizeRedirect(deps, casdoor.AuthSignup)
}

func authorizeRedirect(deps *Deps, kind casdoor.AuthKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL := deps.Casdoor.AuthCodeURL(kind, deps.redirectURI(r), stateToken)
		logging.Printf(r.Context(), "Redirecting to Casdoor %s: %s", kind, util.TruncateLog(authURL, 512))
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow: exchanges the code, verifies the
// id_token, provisions the account and tenant, issues the console tokens, and
// redirects back to the configured domain with both tokens as query
// parameters and HTTP-only cookies.
//
// With ?format=json the handler instead responds with the raw token info and
// verified claims, skipping provisioning.
func CallbackHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		code := r.URL.Query().Get("code")
		if code == "" {
			logging.Printf(ctx, "⚠️ Missing authorization code in callback")
			http.Error(w, "Missing authorization code", http.StatusBadRequest)
			return
		}

		idToken, providerToken, err := deps.Casdoor.Exchange(ctx, code)
		if errors.Is(err, casdoor.ErrMissingIDToken) {
			http.Error(w, "Token response missing id_token", http.StatusBadRequest)
			return
		}
		if err != nil {
			logging.Printf(ctx, "Token exchange failed: %v", err)
			http.Error(w, fmt.Sprintf("Error: %v", err), http.StatusBadRequest)
			return
		}

		claims, err := deps.Verifier.Verify(idToken)
		if err != nil {
			logging.Printf(ctx, "Identity token rejected: %v", err)
			http.Error(w, fmt.Sprintf("Error parsing token: %v", err), http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, map[string]interface{}{
				"token_info": map[string]interface{}{
					"access_token":  providerToken.AccessToken,
					"token_type":    providerToken.TokenType,
					"refresh_token": providerToken.RefreshToken,
					"id_token":      idToken,
				},
				"user": claims,
			})
			return
		}

		identity := account.Identity{
			Email:       claims.Email,
			DisplayName: displayName(claims),
			SubjectID:   claims.SubjectID(),
		}
		result, err := deps.Provisioner.Provision(ctx, identity)
		if errors.Is(err, account.ErrInsufficientIdentity) {
			http.Error(w, "Insufficient user information from Casdoor.", http.StatusBadRequest)
			return
		}
		if err != nil {
			// Database failures are operator problems, not user-correctable.
			logging.Printf(ctx, "❌ Provisioning failed for %s: %v", claims.Email, err)
			http.Error(w, "Failed to process login", http.StatusInternalServerError)
			return
		}

		consoleToken, err := deps.Issuer.IssueAccessToken(result.AccountID)
		if err != nil {
			logging.Printf(ctx, "❌ Access token issuance failed: %v", err)
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			return
		}
		refreshToken, err := deps.Issuer.IssueRefreshToken(ctx, result.AccountID)
		if err != nil {
			logging.Printf(ctx, "❌ Refresh token issuance failed: %v", err)
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			return
		}

		redirectURL := fmt.Sprintf("%s?access_token=%s&refresh_token=%s",
			deps.Config.Domain, url.QueryEscape(consoleToken), url.QueryEscape(refreshToken))

		cookieDomain := cookieDomainFrom(deps.Config.Domain)
		// No Secure flag, matching the upstream deployment. Known weakness on
		// plain-HTTP deployments; do not harden silently.
		http.SetCookie(w, &http.Cookie{
			Name:     "console_token",
			Value:    consoleToken,
			HttpOnly: true,
			MaxAge:   3600,
			Domain:   cookieDomain,
			Path:     "/",
		})
		http.SetCookie(w, &http.Cookie{
			Name:     "refresh_token",
			Value:    refreshToken,
			HttpOnly: true,
			MaxAge:   30 * 24 * 3600,
			Domain:   cookieDomain,
			Path:     "/",
		})

		logging.Printf(ctx, "✅ Login complete for %s (account %s, tenant %s)",
			claims.Email, result.AccountID, result.TenantID)
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

// ActionHandler serves the plugin-style single endpoint, routing on the
// action query parameter. Absent action defaults to login.
func ActionHandler(deps *Deps) http.HandlerFunc {
	login := LoginHandler(deps)
	signup := SignupHandler(deps)
	callback := CallbackHandler(deps)

	return func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		if action == "" {
			action = "login"
		}
		logging.Printf(r.Context(), "Received action: %s", action)

		switch action {
		case "login":
			login(w, r)
		case "signup":
			signup(w, r)
		case "callback":
			callback(w, r)
		default:
			http.Error(w, "Invalid action", http.StatusBadRequest)
		}
	}
}

func displayName(claims *casdoor.IdentityClaims) string {
	if claims.DisplayName != "" {
		return claims.DisplayName
	}
	return claims.Name
}

// cookieDomainFrom extracts the host from the configured domain, which may be
// given as a bare host or a full URL, with or without a port.
func cookieDomainFrom(domain string) string {
	if strings.Contains(domain, "://") {
		if u, err := url.Parse(domain); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	host := strings.TrimSuffix(domain, "/")
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	// No port. Unbracket a bare IPv6 literal like "[::1]".
	return strings.Trim(host, "[]")
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}
