package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors what the gateway signs: the subject is the user id.
type Claims struct {
	ProjectID string `json:"project_id"`
	Role      string `json:"role"`

	jwt.RegisteredClaims
}

type JWT struct {
	Secret []byte
	Issuer string
}

func (j JWT) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = j.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
}

func (j JWT) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	return *c, nil
}
