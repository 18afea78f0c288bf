package auth

import "github.com/golang-jwt/jwt/v5"

// Claims identifies the owner of playground projects. Subject carries the
// user id; Name is informational.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string { return c.Subject }
