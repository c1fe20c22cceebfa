package identity

import (
	"time"

	ierr "gatepass/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// FrameClaims is the impersonation frame as carried in the access token
type FrameClaims struct {
	OriginalID       string `json:"oid"`
	OriginalRole     string `json:"orole"`
	OriginalUsername string `json:"ousername"`
	StartedAt        int64  `json:"since"`
	SessionID        string `json:"sid"`
}

// Claims carries the full identity context so requests stay stateless
type Claims struct {
	Role          string       `json:"role"`
	Username      string       `json:"username"`
	Impersonation *FrameClaims `json:"imp,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies access tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign encodes the identity context into a signed HS256 token
func (s *Signer) Sign(idc Context) (string, error) {
	now := s.now()
	claims := Claims{
		Role:     idc.Actor.Role,
		Username: idc.Actor.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   idc.Actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if idc.Frame != nil {
		claims.Impersonation = &FrameClaims{
			OriginalID:       idc.Frame.Original.ID.String(),
			OriginalRole:     idc.Frame.Original.Role,
			OriginalUsername: idc.Frame.Original.Username,
			StartedAt:        idc.Frame.StartedAt.Unix(),
			SessionID:        idc.Frame.SessionID.String(),
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to generate token").
			Mark(ierr.ErrSystem)
	}
	return signed, nil
}

// Parse verifies the token and rebuilds the identity context it carries
func (s *Signer) Parse(tokenString string) (Context, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Context{}, ierr.WithError(err).
			WithHint("Invalid or expired token").
			Mark(ierr.ErrUnauthorized)
	}

	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Context{}, ierr.WithError(err).
			WithHint("Invalid token subject").
			Mark(ierr.ErrUnauthorized)
	}

	idc := New(Principal{ID: actorID, Role: claims.Role, Username: claims.Username})
	if f := claims.Impersonation; f != nil {
		originalID, err := uuid.Parse(f.OriginalID)
		if err != nil {
			return Context{}, ierr.WithError(err).
				WithHint("Invalid impersonation frame").
				Mark(ierr.ErrUnauthorized)
		}
		sessionID, err := uuid.Parse(f.SessionID)
		if err != nil {
			return Context{}, ierr.WithError(err).
				WithHint("Invalid impersonation frame").
				Mark(ierr.ErrUnauthorized)
		}
		idc.Frame = &Frame{
			Original:  Principal{ID: originalID, Role: f.OriginalRole, Username: f.OriginalUsername},
			StartedAt: time.Unix(f.StartedAt, 0).UTC(),
			SessionID: sessionID,
		}
	}
	return idc, nil
}
