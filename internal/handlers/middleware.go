package handlers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
)

type contextKey string

const (
	OperatorContextKey contextKey = "operator"
)

const tokenIssuer = "tinify-dashboard"

type Claims struct {
	Username  string `json:"username"`
	DiscordID string `json:"discord_id,omitempty"`
	Source    string `json:"source"`
	jwt.RegisteredClaims
}

// issueToken signs a 30 day session token for op.
func issueToken(secret string, op models.Operator) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:  op.Username,
		DiscordID: op.DiscordID,
		Source:    op.Source,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour * 30)), // 30 days
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// AuthMiddleware validates JWT token and sets operator context. Browsers
// cannot set headers on websocket upgrades, so a "token" query parameter is
// accepted as well.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				bearerToken := strings.Split(authHeader, " ")
				if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
					http.Error(w, "Unauthorized: Invalid token format", http.StatusUnauthorized)
					return
				}
				tokenString = bearerToken[1]
			}
			if tokenString == "" {
				http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
				return
			}

			claims, err := parseToken(secret, tokenString)
			if err != nil {
				http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
				return
			}

			op := models.Operator{Username: claims.Username, DiscordID: claims.DiscordID, Source: claims.Source}
			ctx := context.WithValue(r.Context(), OperatorContextKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BotSecretMiddleware guards the internal endpoints used by the Discord bot.
// An empty secret disables them.
func BotSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Bot-Secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows the dashboard frontend origins.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed["*"] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetOperatorFromContext helper to retrieve the authenticated operator
func GetOperatorFromContext(ctx context.Context) (models.Operator, bool) {
	op, ok := ctx.Value(OperatorContextKey).(models.Operator)
	return op, ok
}
