package crypto

import (
	"errors"
	"fmt"
	"loan_manager/internal/domain"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "loan_manager"

var (
	ErrMissingToken = errors.New("bearer token is required")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrExpiredToken = errors.New("bearer token is expired")
)

type claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SubjectID string `json:"subject_id"`
}

// TokenSigner issues and verifies HS256 bearer tokens carrying a principal.
type TokenSigner struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewTokenSigner(secretKey string, ttl time.Duration, logger *slog.Logger) *TokenSigner {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenSigner{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *TokenSigner) Issue(p domain.Principal) (string, error) {
	if strings.TrimSpace(p.UserID) == "" || !p.Role.Valid() || strings.TrimSpace(p.SubjectID) == "" {
		return "", fmt.Errorf("principal needs user, role and subject: %+v", p)
	}
	now := s.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role:      string(p.Role),
		SubjectID: p.SubjectID,
	})
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns the principal it carries.
func (s *TokenSigner) Verify(raw string) (domain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Principal{}, ErrMissingToken
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.logger.Warn("Token verification failed", slog.String("error", err.Error()))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, ErrExpiredToken
		}
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	p := domain.Principal{
		UserID:    parsed.Subject,
		Role:      domain.Role(parsed.Role),
		SubjectID: parsed.SubjectID,
	}
	if p.UserID == "" || !p.Role.Valid() || p.SubjectID == "" {
		return domain.Principal{}, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
