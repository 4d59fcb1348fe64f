package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Pair holds the access/refresh token pair issued by the backend.
type Pair struct {
	Access  string
	Refresh string
}

// Valid reports whether both halves of the pair are present.
func (p Pair) Valid() bool {
	return p.Access != "" && p.Refresh != ""
}

// Provider supplies the current token pair and exchanges an expired one.
// The host application owns credential storage; the engine only consumes.
type Provider interface {
	Tokens() (Pair, error)
	Refresh(ctx context.Context) (Pair, error)
}

// Claims structure for the claims the engine inspects
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// ErrNoExpiry token carries no exp claim
var ErrNoExpiry = errors.New("token has no expiration claim")

// Expiry decodes the token without verifying the signature and returns
// its expiration time. The engine never holds the signing secret, it
// only needs the exp claim to decide when to refresh.
func Expiry(tokenStr string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(strip(tokenStr), claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// NotExpired check token not expires within the given leeway
func NotExpired(tokenStr string, leeway time.Duration) bool {
	exp, err := Expiry(tokenStr)
	if err != nil {
		// undecodable tokens are treated as expired so the caller refreshes
		return false
	}
	return exp.After(time.Now().Add(leeway))
}

// UserID decodes the subject user id carried in the token, empty if absent.
func UserID(tokenStr string) string {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(strip(tokenStr), claims); err != nil {
		return ""
	}
	return claims.UserID
}

// Bearer formats the token for an Authorization header
func Bearer(tokenStr string) string {
	return "Bearer " + strip(tokenStr)
}

func strip(t string) string {
	return strings.TrimPrefix(t, "Bearer ")
}
