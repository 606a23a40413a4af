// Package session resolves the workspace a request acts on.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradeflow/internal/security"
)

// WorkspaceHeader carries the workspace id for the development resolver.
const WorkspaceHeader = "X-Workspace-ID"

// DefaultWorkspaceClaim is the JWT claim holding the workspace id.
const DefaultWorkspaceClaim = "workspace_id"

// Resolver maps a request to a workspace id.
type Resolver interface {
	Resolve(r *http.Request) (workspaceID string, ok bool)
}

// JWTResolver reads an HS256 bearer token.
type JWTResolver struct {
	secret []byte
	issuer string
	claim  string
}

// NewJWTResolver creates a resolver verifying tokens with secret. An empty
// issuer accepts any issuer; an empty claim uses DefaultWorkspaceClaim.
func NewJWTResolver(secret, issuer, claim string) *JWTResolver {
	if claim == "" {
		claim = DefaultWorkspaceClaim
	}
	return &JWTResolver{secret: []byte(secret), issuer: issuer, claim: claim}
}

// Resolve implements Resolver.
func (j *JWTResolver) Resolve(r *http.Request) (string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return "", false
	}
	ws, err := j.Verify(token)
	if err != nil {
		return "", false
	}
	return ws, true
}

// Verify validates token and returns its workspace id.
func (j *JWTResolver) Verify(token string) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}

	ws, _ := claims[j.claim].(string)
	ws = strings.TrimSpace(ws)
	if err := security.ValidateWorkspaceID(ws); err != nil {
		return "", err
	}
	return ws, nil
}

// Issue signs a token for workspaceID valid for ttl.
func (j *JWTResolver) Issue(workspaceID, subject string, ttl time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if err := security.ValidateWorkspaceID(workspaceID); err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		j.claim: workspaceID,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if subject != "" {
		claims["sub"] = subject
	}
	if j.issuer != "" {
		claims["iss"] = j.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// HeaderResolver trusts the X-Workspace-ID header. Development only.
type HeaderResolver struct{}

// Resolve implements Resolver.
func (HeaderResolver) Resolve(r *http.Request) (string, bool) {
	ws := strings.TrimSpace(r.Header.Get(WorkspaceHeader))
	if security.ValidateWorkspaceID(ws) != nil {
		return "", false
	}
	return ws, true
}

// Chain tries resolvers in order.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(r *http.Request) (string, bool) {
	for _, res := range c {
		if ws, ok := res.Resolve(r); ok {
			return ws, true
		}
	}
	return "", false
}

// New builds the resolver chain: JWT when a secret is set, then the header
// resolver when devHeader is enabled. With neither, every request fails.
func New(secret, issuer, claim string, devHeader bool) Resolver {
	var chain Chain
	if secret != "" {
		chain = append(chain, NewJWTResolver(secret, issuer, claim))
	}
	if devHeader {
		chain = append(chain, HeaderResolver{})
	}
	return chain
}
