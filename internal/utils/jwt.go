package utils // package utils provides helpers for admin session tokens and password hashing

import (
    "errors"  // errors builds the sentinel for rejected tokens
    "fmt"     // fmt formats the subject claim
    "strconv" // strconv parses the subject claim back into an id
    "time"    // time utilities for generating expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// ErrInvalidToken is returned by ParseAccessToken for any token that is
// malformed, expired, signed with another key or algorithm, or missing a
// required claim.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string sent by the admin console in the
// Authorization header.  Exp stores the expiration timestamp.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// SessionClaims is what a verified token says about its bearer.
type SessionClaims struct {
    AdminID  uint64
    Username string
    Role     string
    Expires  time.Time
}

// NewAccessToken builds and signs an HS256 JWT for an admin.  The token
// carries the standard subject (sub), expiration (exp) and issued at (iat)
// claims plus the admin's username (name) and role.
func NewAccessToken(secret string, adminID uint64, username, role string, ttlMin int) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    // sub is a string per RFC 7519; numeric subjects decode as float64 otherwise.
    claims := jwt.MapClaims{
        "sub":  fmt.Sprintf("%d", adminID),
        "name": username,
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw with secret and extracts its claims.  Only
// HMAC signing methods are accepted and exp is required.
func ParseAccessToken(secret, raw string) (SessionClaims, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        // Reject tokens that were not signed with HMAC.
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, ErrInvalidToken
        }
        return []byte(secret), nil
    }, jwt.WithExpirationRequired())
    if err != nil || !tok.Valid {
        return SessionClaims{}, ErrInvalidToken
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return SessionClaims{}, ErrInvalidToken
    }

    sub, _ := claims["sub"].(string)
    id, err := strconv.ParseUint(sub, 10, 64)
    if err != nil || id == 0 {
        return SessionClaims{}, ErrInvalidToken
    }
    role, _ := claims["role"].(string)
    if role == "" {
        return SessionClaims{}, ErrInvalidToken
    }
    name, _ := claims["name"].(string)

    out := SessionClaims{AdminID: id, Username: name, Role: role}
    if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
        out.Expires = exp.Time.UTC()
    }
    return out, nil
}
