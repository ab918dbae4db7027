package hosttoken

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bridgetalk/pkg/domain"
)

// DefaultTTL is how long an issued host token stays valid.
const DefaultTTL = 7 * 24 * time.Hour

const leeway = 30 * time.Second

// Claims identify the host behind a verified bearer token.
type Claims struct {
	ID    int64
	Email string
	Name  string
}

type tokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for the host.
func Issue(secret []byte, host domain.Host, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret required")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	claims := tokenClaims{
		Email: host.Email,
		Name:  host.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(host.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify validates a token against the signing secret and returns the
// host identity it carries.
func Verify(secret []byte, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, errors.New("token required")
	}
	claims := tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return Claims{}, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || id <= 0 {
		return Claims{}, errors.New("token subject missing")
	}
	return Claims{ID: id, Email: claims.Email, Name: claims.Name}, nil
}
