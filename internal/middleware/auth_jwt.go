package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retouch/internal/i18n"
)

type TokenClaims struct {
	Sub      string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

type userKey string

const (
	userIDKey    userKey = "user_id"
	userEmailKey userKey = "user_email"
	actorKey     userKey = "actor"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

func SignJWT(secret string, claims TokenClaims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	headerEnc := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadEnc := base64.RawURLEncoding.EncodeToString(payloadJSON)
	data := headerEnc + "." + payloadEnc
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyJWT(secret, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// AuthJWT requires a bearer token signed with secret. A locale claim only
// overrides the negotiated locale when it names a supported language.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			ctx = context.WithValue(ctx, userEmailKey, claims.Email)
			if i18n.Supported(claims.Locale) {
				ctx = WithLocale(ctx, claims.Locale)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth checks X-Admin-Token against a bcrypt hash. An empty hash disables
// the operator API.
func AdminAuth(tokenHash string) func(http.Handler) http.Handler {
	hash := []byte(strings.TrimSpace(tokenHash))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(hash) == 0 {
				http.Error(w, "admin api disabled", http.StatusServiceUnavailable)
				return
			}
			token := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
			if token == "" || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, "admin")))
		})
	}
}

// HashAdminToken produces the value stored in ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("admin token is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func UserEmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userEmailKey).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext names the operator behind an admin request.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
