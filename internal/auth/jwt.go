package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Token errors.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoTenant     = errors.New("token has no tenant")
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

const clockLeeway = 30 * time.Second

// Claims is the payload of an Aegis access token.
type Claims struct {
	jwt.Claims
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Identity is the verified caller derived from a token.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
	Email    string
}

// Verifier validates HS256 access tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier. issuer may be empty to skip the iss check.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Verify parses and validates a compact JWT and returns the caller identity.
// A valid token without a tenant_id returns ErrNoTenant together with the identity.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims Claims
	if err := tok.Claims(v.secret, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	expected := jwt.Expected{Issuer: v.issuer, Time: v.now()}
	if err := claims.ValidateWithLeeway(expected, clockLeeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}
	// Unknown roles are left empty and fail every role check.
	role, _ := ParseRole(claims.Role)

	id := &Identity{UserID: userID, Role: role, Email: claims.Email}
	if claims.TenantID == "" {
		return id, ErrNoTenant
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return id, ErrNoTenant
	}
	id.TenantID = tenantID
	return id, nil
}

// ExtractBearerToken returns the token from an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
