package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	PasswordCost = 10

	RegisterTTL = time.Hour
	LoginTTL    = 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("token is not valid")
	ErrNoSecret     = errors.New("token secret is empty")
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type UserClaim struct {
	ID       uint   `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
}

// Claims is the signed token payload: {user: {id, threadId}} plus the registered claims
type Claims struct {
	User UserClaim `json:"user"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for the user that expires after ttl
func (i *Issuer) Issue(user UserClaim, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return token, nil
}

// Verify parses the token and checks signature and expiry
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.User.ID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
