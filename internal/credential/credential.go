package credential

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential reports that no usable credential is available.
var ErrNoCredential = errors.New("credential: no credential")

// Credential is the access token plus its expiry and associated identity.
// It is treated as an atomic unit: replaced wholesale, never partially updated.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Username  string    `json:"username,omitempty"`
}

// Valid reports whether the credential can still be used at the given time.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && c.ExpiresAt.After(now)
}

// ExpiryFromToken extracts the exp claim from a JWT without verifying the
// signature. Used as a fallback when a login response omits expiresAt.
func ExpiryFromToken(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("credential: token has no exp claim")
	}
	return exp.Time, nil
}

// record is the persisted wire form. expiresAt is accepted either as an
// RFC3339 string or as unix seconds, matching what backends historically sent.
type record struct {
	Token     string          `json:"token"`
	ExpiresAt json.RawMessage `json:"expiresAt"`
	Username  string          `json:"username"`
}

func (r record) credential() (Credential, error) {
	if strings.TrimSpace(r.Token) == "" {
		return Credential{}, errors.New("credential: missing token")
	}
	expiry, err := ParseExpiry(r.ExpiresAt)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: r.Token, ExpiresAt: expiry, Username: r.Username}, nil
}

// ParseExpiry decodes an expiresAt wire value.
func ParseExpiry(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, errors.New("credential: missing expiresAt")
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if t, err := time.Parse(time.RFC3339, asString); err == nil {
			return t, nil
		}
		if secs, err := strconv.ParseFloat(asString, 64); err == nil {
			return unixExpiry(secs), nil
		}
		return time.Time{}, errors.New("credential: unparseable expiresAt")
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return unixExpiry(asNumber), nil
	}

	return time.Time{}, errors.New("credential: unparseable expiresAt")
}

func unixExpiry(secs float64) time.Time {
	// Values above 1e12 are already milliseconds.
	if secs > 1e12 {
		return time.UnixMilli(int64(secs)).UTC()
	}
	return time.Unix(int64(secs), 0).UTC()
}
