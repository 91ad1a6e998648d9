// ABOUTME: Room token minting and verification for RTC clients
// ABOUTME: HS256 signed tokens carrying the room and publish/login privileges

package roomtoken

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultType is the typ header the RTC service expects.
const DefaultType = "zego-token-04"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWrongRoom    = errors.New("token not valid for room")
)

// Privilege keys in the token payload.
const (
	PrivilegeLogin   = "1"
	PrivilegePublish = "2"
)

// Payload is the room-scoped part of the claims.
type Payload struct {
	RoomID       string         `json:"room_id"`
	Privilege    map[string]int `json:"privilege"`
	StreamIDList []string       `json:"stream_id_list"`
}

// Claims are the claims of a room token. Issuer is the numeric app id when
// it parses as one.
type Claims struct {
	Issuer   any     `json:"iss"`
	Subject  string  `json:"sub"`
	IssuedAt int64   `json:"iat"`
	Expires  int64   `json:"exp"`
	Payload  Payload `json:"payload"`
}

// GetExpirationTime implements jwt.Claims.
func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Expires, 0)), nil
}

// GetIssuedAt implements jwt.Claims.
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

// GetNotBefore implements jwt.Claims.
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims.
func (c *Claims) GetIssuer() (string, error) { return fmt.Sprint(c.Issuer), nil }

// GetSubject implements jwt.Claims.
func (c *Claims) GetSubject() (string, error) { return c.Subject, nil }

// GetAudience implements jwt.Claims.
func (c *Claims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

// Minter issues and verifies room tokens for one app.
type Minter struct {
	appID  string
	secret []byte
	typ    string
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter creates a Minter. An empty typ uses DefaultType.
func NewMinter(appID string, secret []byte, typ string, ttl time.Duration) *Minter {
	if typ == "" {
		typ = DefaultType
	}
	return &Minter{appID: appID, secret: secret, typ: typ, ttl: ttl, now: time.Now}
}

// Mint creates a token letting userID log in and publish in roomID.
func (m *Minter) Mint(userID, roomID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := m.now()
	claims := &Claims{
		Issuer:   m.issuer(),
		Subject:  userID,
		IssuedAt: now.Unix(),
		Expires:  now.Add(m.ttl).Unix(),
		Payload: Payload{
			RoomID:    roomID,
			Privilege: map[string]int{PrivilegeLogin: 1, PrivilegePublish: 1},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = m.typ
	return token.SignedString(m.secret)
}

func (m *Minter) issuer() any {
	if n, err := strconv.ParseUint(m.appID, 10, 64); err == nil {
		return n
	}
	return m.appID
}

// Verify validates a token and returns its claims.
func (m *Minter) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims, nil
}

// Authorize verifies a token and checks it was minted for userID in roomID.
// Tokens minted without a room are valid for any room.
func (m *Minter) Authorize(tokenString, userID, roomID string) (*Claims, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userID {
		return nil, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	if claims.Payload.RoomID != "" && claims.Payload.RoomID != roomID {
		return nil, ErrWrongRoom
	}
	return claims, nil
}
