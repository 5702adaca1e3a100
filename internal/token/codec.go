// Package token encodes and decodes the signed JWTs used for access and
// refresh credentials. A Codec is immutable once built and safe for
// concurrent use; parsing is pure computation and never blocks.
package token

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type distinguishes access tokens from refresh tokens via the "type" claim.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

const (
	// DefaultClockSkew is the leeway applied to exp/iat checks.
	DefaultClockSkew = 30 * time.Second
	// DefaultRoleClaim is the claim that carries the user's role.
	DefaultRoleClaim = "role"

	claimType   = "type"
	claimUserID = "uid"

	minSecretBytes = 32
)

// Settings is the immutable configuration of a Codec.
type Settings struct {
	Secret []byte
	// Issuer is stamped into the iss claim of issued tokens when set.
	Issuer string
	// ExpectedIssuer, when set, must match the iss claim of parsed tokens.
	ExpectedIssuer string
	ClockSkew      time.Duration
	RoleClaim      string
}

// Subject is the identity a token is issued for.
type Subject struct {
	UserID string
	Email  string
	Role   string
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Claims is the verified content of a parsed token.
type Claims struct {
	ID        string
	Subject   string
	UserID    string
	Issuer    string
	Type      Type
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Raw holds every claim as decoded from the payload.
	Raw map[string]any
}

// Codec signs and verifies HS256 tokens with a shared secret.
type Codec struct {
	secret         []byte
	issuer         string
	expectedIssuer string
	skew           time.Duration
	roleClaim      string
	now            func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec validates the settings and builds a Codec.
func NewCodec(s Settings, opts ...Option) (*Codec, error) {
	if len(s.Secret) < minSecretBytes {
		return nil, ErrWeakSecret
	}
	c := &Codec{
		secret:         append([]byte(nil), s.Secret...),
		issuer:         s.Issuer,
		expectedIssuer: s.ExpectedIssuer,
		skew:           s.ClockSkew,
		roleClaim:      s.RoleClaim,
		now:            time.Now,
	}
	if c.skew < 0 {
		c.skew = 0
	}
	if c.roleClaim == "" {
		c.roleClaim = DefaultRoleClaim
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given type for sub that expires after ttl.
func (c *Codec) Issue(sub Subject, typ Type, ttl time.Duration) (Issued, error) {
	now := c.now().UTC()
	exp := now.Add(ttl)
	id := uuid.NewString()

	claims := jwt.MapClaims{
		"jti":     id,
		"sub":     sub.Email,
		"iat":     now.Unix(),
		"exp":     exp.Unix(),
		claimType: string(typ),
	}
	if sub.UserID != "" {
		claims[claimUserID] = sub.UserID
	}
	if sub.Role != "" {
		claims[c.roleClaim] = sub.Role
	}
	if c.issuer != "" {
		claims["iss"] = c.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Issued{Token: signed, ID: id, ExpiresAt: time.Unix(exp.Unix(), 0).UTC()}, nil
}

// Parse verifies the signature, structure, validity window and (optionally)
// issuer of raw. Failures are one of ErrMalformed, ErrInvalidSignature,
// ErrExpired or ErrInvalidIssuer.
func (c *Codec) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithLeeway(c.skew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.expectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(c.expectedIssuer))
	}

	tok, err := jwt.NewParser(opts...).Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}

	out := &Claims{
		ID:     claimString(mc["jti"]),
		UserID: claimString(mc[claimUserID]),
		Type:   Type(claimString(mc[claimType])),
		Roles:  ExtractRoles(mc, c.roleClaim),
		Raw:    map[string]any(mc),
	}
	out.Subject, _ = mc.GetSubject()
	out.Issuer, _ = mc.GetIssuer()
	if iat, _ := mc.GetIssuedAt(); iat != nil {
		out.IssuedAt = iat.Time.UTC()
	}
	if exp, _ := mc.GetExpirationTime(); exp != nil {
		out.ExpiresAt = exp.Time.UTC()
	}
	return out, nil
}

// claimString renders scalar claim values; JSON numbers decode as float64.
func claimString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
