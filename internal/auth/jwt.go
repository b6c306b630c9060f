// Package auth provides JWT handling for the chat core: full validation on
// the backend side and claims extraction for client-side identity.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are missing
	ErrMissingClaims = errors.New("missing required claims")
)

// Claims represents the JWT claims extracted from a token
type Claims struct {
	UserID string
	Name   string
	Roles  []string
}

// HasRole reports whether the claims include the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a new JWT validator with the given secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
	}
}

// ValidateToken validates a JWT token and extracts the claims.
// It verifies the signature, the expiration, and the required user_id claim.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	return claimsFromMap(mapClaims)
}

// PeekClaims extracts claims WITHOUT verifying the signature.
//
// The widget and admin console run on the untrusted side of the boundary:
// they only need the user id for display and for the Authenticated identity,
// while the backend re-validates the same token on every request. Never use
// this for authorization decisions.
func PeekClaims(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	return claimsFromMap(mapClaims)
}

// claimsFromMap extracts the application claims from parsed map claims.
func claimsFromMap(mapClaims jwt.MapClaims) (*Claims, error) {
	userID, ok := mapClaims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: user_id claim missing or invalid", ErrMissingClaims)
	}

	name, _ := mapClaims["name"].(string)
	if name == "" {
		name = userID
	}

	roles, err := extractRoles(mapClaims["roles"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingClaims, err)
	}

	return &Claims{
		UserID: userID,
		Name:   name,
		Roles:  roles,
	}, nil
}

// extractRoles converts the roles claim to a string slice. A missing roles
// claim yields an empty slice; shoppers are not required to carry roles.
func extractRoles(rolesInterface interface{}) ([]string, error) {
	if rolesInterface == nil {
		return []string{}, nil
	}

	if rolesSlice, ok := rolesInterface.([]interface{}); ok {
		roles := make([]string, len(rolesSlice))
		for i, role := range rolesSlice {
			roleStr, ok := role.(string)
			if !ok {
				return nil, fmt.Errorf("roles array contains non-string value at index %d", i)
			}
			roles[i] = roleStr
		}
		return roles, nil
	}

	if rolesSlice, ok := rolesInterface.([]string); ok {
		return rolesSlice, nil
	}

	return nil, fmt.Errorf("roles claim must be an array of strings")
}
