package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated viewer resolved from a Supabase access token.
type User struct {
	ID    string `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Role  string `json:"role,omitempty" db:"role"`
}

// Profile holds the billing identities of a user.
type Profile struct {
	ID               string    `json:"id" db:"id" gorm:"primaryKey"`
	Email            string    `json:"email" db:"email"`
	Username         string    `json:"username,omitempty" db:"username"`
	StripeAccountID  string    `json:"stripe_account_id,omitempty" db:"stripe_account_id"` // connected account for payouts
	StripeCustomerID string    `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// TokenClaims are the claims carried by a Supabase access token.
type TokenClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Aud   string `json:"aud,omitempty"`
	Exp   int64  `json:"exp"`
	Iat   int64  `json:"iat"`
}

// GetExpirationTime implements jwt.Claims interface
func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

// GetIssuedAt implements jwt.Claims interface
func (c *TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

// GetNotBefore implements jwt.Claims interface
func (c *TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (c *TokenClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements jwt.Claims interface
func (c *TokenClaims) GetSubject() (string, error) {
	return c.Sub, nil
}

// GetAudience implements jwt.Claims interface
func (c *TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Aud == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Aud}, nil
}

// ToUser builds the viewer snapshot from validated claims.
func (c *TokenClaims) ToUser() *User {
	return &User{ID: c.Sub, Email: c.Email, Role: c.Role}
}
