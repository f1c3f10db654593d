package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrMissingToken  = errors.New("missing token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidClaims = errors.New("invalid token claims")
)

const (
	userIdClaim = "id"
	roleClaim   = "role"
	tenantClaim = "company_id"
	expClaim    = "exp"

	tokenQueryParam = "token"
)

// Claims is the identity a verified token resolves to.
type Claims struct {
	UserId   string `json:"userId"`
	Role     string `json:"role"`
	TenantId string `json:"tenantId"`
}

type Verifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier verifies HS256 tokens issued by the auth service.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

func (v *JWTVerifier) Verify(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidClaims
	}

	userId, ok := claimString(mapClaims, userIdClaim)
	if !ok || userId == "" {
		return Claims{}, fmt.Errorf("%w: missing %q", ErrInvalidClaims, userIdClaim)
	}

	role, _ := claimString(mapClaims, roleClaim)
	tenantId, _ := claimString(mapClaims, tenantClaim)

	return Claims{
		UserId:   userId,
		Role:     role,
		TenantId: tenantId,
	}, nil
}

// claimString reads a claim that may have been encoded as a string or a number.
func claimString(claims jwt.MapClaims, key string) (string, bool) {
	switch v := claims[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// CreateToken signs a token carrying claims that expires after exp.
func CreateToken(signingKey []byte, claims Claims, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: claims.UserId,
		roleClaim:   claims.Role,
		tenantClaim: claims.TenantId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}

// TokenFromQuery extracts the bearer token carried in the connection URL.
func TokenFromQuery(q url.Values) (string, error) {
	if token := q.Get(tokenQueryParam); token != "" {
		return token, nil
	}

	return "", ErrMissingToken
}
