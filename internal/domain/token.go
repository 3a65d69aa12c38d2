package domain

import "time"

// Identity names one of the two credential slots a storefront keeps.
type Identity string

const (
	IdentityAnonymous Identity = "anonymous"
	IdentityCustomer  Identity = "customer"
)

// StorageKey is the key the identity's token record is persisted under.
func (i Identity) StorageKey() string {
	switch i {
	case IdentityCustomer:
		return "commercetoolsToken"
	case IdentityAnonymous:
		return "anonymToken"
	default:
		return ""
	}
}

// TokenRecord is a cached access token for one identity.
// A record with an empty Token is equivalent to no record at all.
type TokenRecord struct {
	Token          string `json:"token"`
	ExpirationTime int64  `json:"expirationTime"`
	RefreshToken   string `json:"refreshToken,omitempty"`
}

// Empty reports whether the record carries no token.
func (r TokenRecord) Empty() bool {
	return r.Token == ""
}

// ExpiresAt converts ExpirationTime (epoch millis) to a time.
func (r TokenRecord) ExpiresAt() time.Time {
	return time.UnixMilli(r.ExpirationTime)
}

// Expired reports whether the access token is past its expiration at now.
func (r TokenRecord) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.ExpirationTime
}

// Usable reports whether the record can still authenticate requests: either
// the access token is live or a refresh token can mint a new one.
func (r TokenRecord) Usable(now time.Time) bool {
	if r.Empty() {
		return false
	}
	return !r.Expired(now) || r.RefreshToken != ""
}
