package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoPrincipal = errors.New("token carries no principal")

// Reads the principal out of a session token issued by the upstream
// application's login. It does not authenticate anyone: an absent or invalid
// token just means the caller is keyed by address instead.
type PrincipalResolver struct {
	secret []byte
	cookie string
}

func NewPrincipalResolver(secret, cookie string) *PrincipalResolver {
	return &PrincipalResolver{
		secret: []byte(secret),
		cookie: cookie,
	}
}

func (p *PrincipalResolver) Enabled() bool {
	return p != nil && len(p.secret) > 0
}

// Returns the principal from the bearer token, falling back to the session
// cookie
func (p *PrincipalResolver) FromRequest(r *http.Request) (string, bool) {
	if !p.Enabled() {
		return "", false
	}

	for _, token := range p.tokens(r) {
		if principal, err := p.ValidateToken(token); err == nil {
			return principal, true
		}
	}

	return "", false
}

// Validates a JWT token and returns its principal
func (p *PrincipalResolver) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})

	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}

	for _, name := range []string{"user_id", "email"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, nil
		}
	}

	return "", ErrNoPrincipal
}

func (p *PrincipalResolver) tokens(r *http.Request) []string {
	var tokens []string

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if t := strings.TrimSpace(parts[1]); t != "" {
				tokens = append(tokens, t)
			}
		}
	}

	if p.cookie != "" {
		if c, err := r.Cookie(p.cookie); err == nil && c.Value != "" {
			tokens = append(tokens, c.Value)
		}
	}

	return tokens
}
