package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminDisabled      = errors.New("admin login is not configured")
	ErrOperatorNotFound   = errors.New("operator not registered")
	ErrOperatorInactive   = errors.New("operator is inactive")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// TokenType distinguishes operator vs admin tokens.
type TokenType string

const (
	TokenTypeOperator TokenType = "operator"
	TokenTypeAdmin    TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType  TokenType `json:"token_type"`
	OperatorID string    `json:"operator_id,omitempty"` // Operator only
	Username   string    `json:"username,omitempty"`    // Admin only
}

// OperatorRoster looks operators up by ID. It returns nil, nil for an
// unknown ID.
type OperatorRoster interface {
	FindOperator(ctx context.Context, operatorID string) (*model.Operator, error)
}

// AuthService handles operator verification, admin login and JWTs.
type AuthService struct {
	cfg    *config.Config
	rdb    *redis.Client
	roster OperatorRoster
	log    zerolog.Logger
}

// NewAuthService creates a new AuthService. A nil roster admits any
// non-empty operator ID; a nil Redis client disables single-session checks.
func NewAuthService(cfg *config.Config, rdb *redis.Client, roster OperatorRoster, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:    cfg,
		rdb:    rdb,
		roster: roster,
		log:    log.With().Str("component", "auth_service").Logger(),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyOperator admits an operator and issues a token. With a roster
// configured the ID must be listed and not inactive.
func (s *AuthService) VerifyOperator(ctx context.Context, operatorID string) (*model.Operator, string, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return nil, "", ErrOperatorNotFound
	}

	op := &model.Operator{OperatorID: operatorID}
	if s.roster != nil {
		found, err := s.roster.FindOperator(ctx, operatorID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: roster: %w", ErrStoreUnavailable, err)
		}
		if found == nil {
			return nil, "", ErrOperatorNotFound
		}
		switch strings.ToLower(strings.TrimSpace(found.Status)) {
		case "inactive", "disabled", "no", "false":
			return nil, "", ErrOperatorInactive
		}
		op = found
	}

	token, err := s.GenerateOperatorToken(ctx, op.OperatorID)
	if err != nil {
		return nil, "", err
	}
	return op, token, nil
}

// AdminLogin checks the configured admin credentials and issues a token.
func (s *AuthService) AdminLogin(username, password string) (string, error) {
	if s.cfg.AdminPasswordHash == "" {
		return "", ErrAdminDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUsername)) == 1
	passErr := s.CheckPassword(s.cfg.AdminPasswordHash, password)
	if !userOK || passErr != nil {
		return "", ErrInvalidCredentials
	}
	return s.GenerateAdminToken(username)
}

// GenerateOperatorToken creates an operator JWT and makes it the operator's
// only valid session; a newer login invalidates older tokens.
func (s *AuthService) GenerateOperatorToken(ctx context.Context, operatorID string) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:  TokenTypeOperator,
		OperatorID: operatorID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, config.CacheKey.OperatorSessionKey(operatorID), jti, s.cfg.JWTExpiry).Err(); err != nil {
			return "", fmt.Errorf("store session: %w", err)
		}
	}
	return signed, nil
}

// GenerateAdminToken creates an admin JWT.
func (s *AuthService) GenerateAdminToken(username string) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeAdmin,
		Username:  username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateOperatorSession checks that the token's JTI is the operator's
// current session.
func (s *AuthService) ValidateOperatorSession(ctx context.Context, operatorID, jti string) error {
	if s.rdb == nil {
		return nil
	}
	stored, err := s.rdb.Get(ctx, config.CacheKey.OperatorSessionKey(operatorID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionInvalidated
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetOperatorSession removes an operator's session, invalidating its token.
func (s *AuthService) ResetOperatorSession(ctx context.Context, operatorID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.OperatorSessionKey(operatorID)).Err()
}
