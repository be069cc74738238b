package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const (
	issuer      = "docworld"
	createScope = "room:create"
)

var ErrInvalidToken = errors.New("invalid room creation token")

type creationClaims struct {
	Scope string `json:"scope"`
	gojwt.RegisteredClaims
}

// Issuer mints and checks room creation tokens. A token proves the server
// handed out the room id, so only its holder may materialize a new room.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer signs with secret. An empty secret is replaced by a random one,
// which makes tokens valid only for this process.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for roomID and its expiry.
func (i *Issuer) Issue(roomID string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := creationClaims{
		Scope: createScope,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   roomID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(expires),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify checks that token was issued by this server for roomID and has not expired.
func (i *Issuer) Verify(token, roomID string) error {
	claims := &creationClaims{}
	_, err := gojwt.ParseWithClaims(token, claims,
		func(*gojwt.Token) (any, error) { return i.secret, nil },
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithSubject(roomID),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Scope != createScope {
		return fmt.Errorf("%w: scope %q", ErrInvalidToken, claims.Scope)
	}
	return nil
}
