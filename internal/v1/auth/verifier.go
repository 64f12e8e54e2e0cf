package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrorCode classifies verification failures for HTTP status mapping:
// EXPIRED and INVALID map to 401, JWKS_ERROR to 503.
type ErrorCode string

const (
	CodeExpired   ErrorCode = "EXPIRED"
	CodeInvalid   ErrorCode = "INVALID"
	CodeJWKSError ErrorCode = "JWKS_ERROR"
)

// VerifyError carries the classification alongside the underlying error.
type VerifyError struct {
	Code ErrorCode
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("token verification failed (%s): %v", e.Code, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Claims represents the JWT claims the game server cares about.
type Claims struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarSeed  string `json:"avatar_seed,omitempty"`
	UserMeta    struct {
		DisplayName string `json:"display_name,omitempty"`
		AvatarURL   string `json:"avatar_url,omitempty"`
	} `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Name returns the best available display name for the user.
func (c *Claims) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if c.UserMeta.DisplayName != "" {
		return c.UserMeta.DisplayName
	}
	return c.Subject
}

// TokenVerifier is the contract consumed by the hub and the actors.
type TokenVerifier interface {
	VerifyToken(tokenString string) (*Claims, error)
}

// Verifier validates JWTs issued by the auth provider. It supports two key
// sources: an RSA/ES JWKS endpoint (cached and refreshed hourly) and an
// HS256 shared secret. When both are configured the JWKS path wins for
// tokens carrying a "kid" header; everything else falls back to the secret.
type Verifier struct {
	keyFunc  jwt.Keyfunc
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier builds a Verifier from the project URL (JWKS discovery) and/or
// an HS256 secret. At least one must be provided.
func NewVerifier(ctx context.Context, projectURL, secret, audience string, regOpts ...jwk.RegisterOption) (*Verifier, error) {
	v := &Verifier{audience: audience}
	if secret != "" {
		v.secret = []byte(secret)
	}

	if projectURL != "" {
		issuerURL, err := url.Parse(projectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse project URL: %w", err)
		}
		v.issuer = issuerURL.JoinPath("auth/v1").String()

		jwksURL := issuerURL.JoinPath("auth/v1/.well-known/jwks.json").String()

		cache := jwk.NewCache(ctx)

		opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
		opts = append(opts, regOpts...)

		if err := cache.Register(jwksURL, opts...); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
		}

		// Fetch the keys for the first time to ensure connectivity.
		if _, err := cache.Refresh(ctx, jwksURL); err != nil {
			return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
		}

		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok {
				if v.secret != nil {
					return v.secret, nil
				}
				return nil, errors.New("kid header not found")
			}

			keys, err := cache.Get(ctx, jwksURL)
			if err != nil {
				return nil, &VerifyError{Code: CodeJWKSError, Err: err}
			}

			key, found := keys.LookupKeyID(kid)
			if !found {
				return nil, fmt.Errorf("key with kid %s not found", kid)
			}

			var pubKey interface{}
			if err := key.Raw(&pubKey); err != nil {
				return nil, fmt.Errorf("failed to get raw public key: %w", err)
			}

			return pubKey, nil
		}
	} else if secret != "" {
		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return v.secret, nil
		}
	} else {
		return nil, errors.New("either a project URL or a JWT secret is required")
	}

	return v, nil
}

// VerifyToken parses and validates a JWT token string. Failures are
// classified as EXPIRED, INVALID, or JWKS_ERROR.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	parseOpts := []jwt.ParserOption{}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, parseOpts...)
	if err != nil {
		var ve *VerifyError
		if errors.As(err, &ve) {
			return nil, ve
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &VerifyError{Code: CodeExpired, Err: err}
		}
		return nil, &VerifyError{Code: CodeInvalid, Err: err}
	}

	if !token.Valid {
		return nil, &VerifyError{Code: CodeInvalid, Err: errors.New("token is invalid")}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, &VerifyError{Code: CodeInvalid, Err: errors.New("failed to cast claims")}
	}
	if claims.Subject == "" {
		return nil, &VerifyError{Code: CodeInvalid, Err: errors.New("token has no subject")}
	}

	return claims, nil
}

// CodeOf extracts the ErrorCode from a verification error, defaulting to INVALID.
func CodeOf(err error) ErrorCode {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeInvalid
}

func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
