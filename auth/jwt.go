package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tcriess/lightspeed-contest/types"
)

type jwtClaims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret, f.e. issued by a trusted backend.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (types.Identity, error) {
	if len(v.secret) == 0 || strings.Count(token, ".") != 2 {
		return types.Identity{}, ErrUnsupportedCredential
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwtClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			// may be a token of another issuer, let the next verifier try
			return types.Identity{}, ErrUnsupportedCredential
		}
		return types.Identity{}, err
	}
	if claims.Subject == "" {
		return types.Identity{}, errors.New("token without subject")
	}
	identity := types.Identity{
		Id:     claims.Subject,
		Name:   claims.Name,
		Email:  claims.Email,
		Avatar: claims.Picture,
	}
	if identity.Name == "" {
		identity.Name = claims.Email
	}
	return identity, nil
}
