package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid token")
)

type UserIDKey struct{}

// GetUserIDFromContext retrieves the user ID from the context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey{}).(string)
	return userID, ok
}

// WithUserID はユーザーIDを設定したコンテキストを返します。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey{}, userID)
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Authenticator は HS256 の JWT を検証し、'sub' クレームをユーザーIDとして取り出します。
// HTTP のミドルウェアと WebSocket の認証メッセージの両方で使います。
type Authenticator struct {
	secret []byte
	bypass bool
	logger *zap.Logger
}

// NewAuthenticator は Authenticator を作成します。
// bypass が true の場合、トークンの文字列そのものをユーザーIDとして扱います（テスト用）。
func NewAuthenticator(secret string, bypass bool, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secret: []byte(secret), bypass: bypass, logger: logger}
}

// Authenticate はトークンを検証し、ユーザーIDを返します。"Bearer " プレフィックスは取り除かれます。
func (a *Authenticator) Authenticate(token string) (string, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))

	if a.bypass {
		// トークンが無ければ毎回異なるユーザーとして扱う
		if tokenString == "" {
			return uuid.New().String(), nil
		}
		return tokenString, nil
	}

	if tokenString == "" {
		return "", ErrMissingToken
	}
	if len(a.secret) == 0 {
		return "", errors.New("JWT secret is not configured")
	}

	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// アルゴリズムがHMACであることを確認
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	// ユーザーIDは 'sub' (Subject) クレームに格納されている
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: missing user ID", ErrInvalidToken)
	}
	return userID, nil
}

// Middleware is a middleware function that checks for a valid JWT token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !a.bypass {
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header is required")
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "Invalid Authorization header format. Must be 'Bearer <token>'")
				return
			}
		}

		userID, err := a.Authenticate(authHeader)
		if err != nil {
			a.logger.Debug("[AuthMiddleware] Authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrMissingToken) {
				writeJSONError(w, http.StatusUnauthorized, "Invalid token")
			} else {
				writeJSONError(w, http.StatusInternalServerError, "Server configuration error: JWT secret missing")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
