// Package auth binds a websocket connection to a player identity.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "unitsync"

var (
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrWrongPassword = errors.New("auth: wrong lobby password")
)

// Tokens issues and verifies session tokens. The subject is the player id
// that owns units on the arbitrator.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokens signs with key. An empty key gets a random one, which means
// tokens do not survive a restart.
func NewTokens(key []byte, ttl time.Duration) *Tokens {
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{key: key, ttl: ttl, now: time.Now}
}

func (t *Tokens) Issue(playerID string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse returns the player id carried by tok.
func (t *Tokens) Parse(tok string) (string, error) {
	if tok == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// FromRequest reads a token from the Authorization header or the token
// query parameter.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Lobby gates joining on a shared password. A lobby with no hash is open.
type Lobby struct {
	hash []byte
}

func NewLobby(hash string) *Lobby {
	return &Lobby{hash: []byte(hash)}
}

func (l *Lobby) Open() bool { return len(l.hash) == 0 }

func (l *Lobby) Admit(password string) error {
	if l.Open() {
		return nil
	}
	if bcrypt.CompareHashAndPassword(l.hash, []byte(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// HashPassword produces a value for LOBBY_PASSWORD_HASH.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
