package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Roles
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleSupervisor = "supervisor"
	RoleViewer     = "viewer"
)

const tenantGroupPrefix = "/tenants/"

type Claims struct {
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	Groups  []string `json:"groups"`
	Tenants []string `json:"tenants"` // Extracted from groups or the tenant_id claim
	jwt.RegisteredClaims
}

// IsAdmin reports whether the user sees every tenant
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsTenantAllowed checks if a tenant is visible to the user
func (c *Claims) IsTenantAllowed(tenantID string) bool {
	if c.IsAdmin() {
		return true
	}
	for _, t := range c.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

type contextKey string

const UserContextKey contextKey = "user"

// JWKSManager handles JWKS fetching and caching
type JWKSManager struct {
	jwks       keyfunc.Keyfunc
	issuerURL  string
	mu         sync.RWMutex
	lastUpdate time.Time
}

var (
	jwksManager *JWKSManager
	jwksOnce    sync.Once
)

// InitJWKS initializes the JWKS manager for token verification
// Call this on server startup in production mode
func InitJWKS(issuerURL string) error {
	var initErr error
	jwksOnce.Do(func() {
		jwksManager = &JWKSManager{issuerURL: issuerURL}
		initErr = jwksManager.refresh()
	})
	return initErr
}

// refresh fetches the JWKS from the OIDC provider
func (m *JWKSManager) refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Construct JWKS URL (Keycloak format)
	jwksURL := strings.TrimSuffix(m.issuerURL, "/") + "/protocol/openid-connect/certs"

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return fmt.Errorf("failed to create keyfunc: %w", err)
	}

	m.jwks = k
	m.lastUpdate = time.Now()
	return nil
}

// getKeyfunc returns the JWT keyfunc for token verification
func (m *JWKSManager) getKeyfunc() jwt.Keyfunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.jwks == nil {
		return nil
	}
	return m.jwks.Keyfunc
}

// DevClaims is the user injected when SKIP_AUTH=true
func DevClaims() *Claims {
	return &Claims{
		Email:  "dev@convo.local",
		Name:   "Dev User",
		Role:   RoleAdmin,
		Groups: []string{"developers", "convo-admins"},
	}
}

// Middleware validates JWT tokens from the OIDC provider
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "auth").Logger()
	skipAuth := os.Getenv("SKIP_AUTH") == "true"
	if skipAuth {
		logger.Warn().Msg("SKIP_AUTH enabled, bypassing authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			if skipAuth {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), DevClaims())))
				return
			}

			// Extract token from Authorization header or query parameter
			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Debug().Str("path", r.URL.Path).Msg("missing authorization token")
				http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
				return
			}

			claims, err := validateToken(tokenString)
			if err != nil {
				logger.Warn().Err(err).Msg("token validation failed")
				http.Error(w, fmt.Sprintf("Unauthorized: %v", err), http.StatusUnauthorized)
				return
			}

			logger.Debug().
				Str("email", claims.Email).
				Str("role", claims.Role).
				Strs("tenants", claims.Tenants).
				Msg("user authenticated")

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	// Try Authorization header first
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Try query parameter (for WebSocket connections)
	return r.URL.Query().Get("token")
}

// validateToken validates the JWT token with optional signature verification
func validateToken(tokenString string) (*Claims, error) {
	env := os.Getenv("ENV")
	verifySignature := os.Getenv("VERIFY_JWT_SIGNATURE") == "true"

	// In production, verify signature by default
	if env != "development" && env != "" {
		verifySignature = true
	}

	var token *jwt.Token
	var err error

	if verifySignature {
		token, err = parseAndVerifyToken(tokenString)
		if err != nil {
			return nil, err
		}
	} else {
		// Development: parse without verification
		token, _, err = new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := ClaimsFromMap(mapClaims)

	// Verified tokens check expiry in jwt.Parse
	if !verifySignature {
		if exp, ok := mapClaims["exp"].(float64); ok {
			expTime := time.Unix(int64(exp), 0)
			claims.ExpiresAt = jwt.NewNumericDate(expTime)
			if expTime.Before(time.Now()) {
				return nil, errors.New("token expired")
			}
		}
	}

	return claims, nil
}

// ClaimsFromMap builds Claims from raw token claims
func ClaimsFromMap(mapClaims jwt.MapClaims) *Claims {
	claims := &Claims{}

	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}

	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferredUsername, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferredUsername
	}

	claims.Role = extractRoleFromMapClaims(mapClaims)
	claims.Groups = extractGroupsFromMapClaims(mapClaims)
	claims.Tenants = extractTenants(mapClaims, claims.Groups)

	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	return claims
}

// parseAndVerifyToken verifies the JWT signature using JWKS
func parseAndVerifyToken(tokenString string) (*jwt.Token, error) {
	// Ensure JWKS is initialized
	if jwksManager == nil {
		issuer := os.Getenv("OIDC_ISSUER")
		if issuer == "" {
			return nil, errors.New("OIDC_ISSUER not configured for production JWT verification")
		}
		if err := InitJWKS(issuer); err != nil {
			return nil, fmt.Errorf("failed to initialize JWKS: %w", err)
		}
	}

	keyfunc := jwksManager.getKeyfunc()
	if keyfunc == nil {
		return nil, errors.New("JWKS not available")
	}

	token, err := jwt.Parse(tokenString, keyfunc, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return token, nil
}

// extractRoleFromMapClaims extracts role from various possible token claim locations
func extractRoleFromMapClaims(mapClaims jwt.MapClaims) string {
	// Check realm_access.roles (Keycloak)
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"].([]interface{}); ok {
			// Priority order: admin > manager > supervisor > viewer
			for _, priority := range []string{RoleAdmin, RoleManager, RoleSupervisor, RoleViewer} {
				for _, role := range roles {
					if roleStr, ok := role.(string); ok && roleStr == priority {
						return roleStr
					}
				}
			}
		}
	}

	// Check cognito:groups (AWS Cognito) and custom:groups
	for _, key := range []string{"cognito:groups", "custom:groups"} {
		groups, ok := mapClaims[key].([]interface{})
		if !ok {
			continue
		}
		for _, group := range groups {
			groupStr, ok := group.(string)
			if !ok {
				continue
			}
			for _, role := range []string{RoleAdmin, RoleManager, RoleSupervisor} {
				if strings.Contains(groupStr, role) {
					return role
				}
			}
		}
	}

	return RoleViewer // default role
}

// extractGroupsFromMapClaims extracts groups from token claims
func extractGroupsFromMapClaims(mapClaims jwt.MapClaims) []string {
	var groups []string

	for _, key := range []string{"groups", "cognito:groups"} {
		if groupsClaim, ok := mapClaims[key].([]interface{}); ok {
			for _, group := range groupsClaim {
				if groupStr, ok := group.(string); ok {
					groups = append(groups, groupStr)
				}
			}
		}
	}

	return groups
}

// extractTenants reads the tenant_id claim and /tenants/<id> group paths.
// No tenants means the user sees nothing unless admin.
func extractTenants(mapClaims jwt.MapClaims, groups []string) []string {
	seen := make(map[string]bool)
	var tenants []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tenants = append(tenants, t)
		}
	}

	if t, ok := mapClaims["tenant_id"].(string); ok {
		add(t)
	}
	for _, group := range groups {
		if !strings.HasPrefix(group, tenantGroupPrefix) {
			continue
		}
		t := strings.TrimPrefix(group, tenantGroupPrefix)
		// Remove any trailing path components
		if idx := strings.Index(t, "/"); idx > 0 {
			t = t[:idx]
		}
		add(t)
	}
	return tenants
}

// WithClaims stores claims on ctx
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// HasRole checks if user has specific role
func HasRole(claims *Claims, role string) bool {
	return claims.Role == role
}

// RequireManagerOrAdmin middleware, manager, supervisor or admin role allowed
func RequireManagerOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok || (claims.Role != RoleAdmin && claims.Role != RoleManager && claims.Role != RoleSupervisor) {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"manager or admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
