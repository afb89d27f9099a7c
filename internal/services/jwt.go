package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
)

// Roles carried in the role claim.
const (
	RoleOwner    = "owner"
	RoleOperator = "operator"
)

// TokenBlacklist is the Redis surface the token service needs.
// *database.RedisDB implements it.
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

// JWTService validates bearer tokens issued by the identity service and
// mints tokens for operators and local tooling with the same shared secret.
//
// Tokens are HS256-signed. A revoked token is blacklisted in Redis for its
// remaining lifetime.
type JWTService struct {
	secret    []byte        // Shared HS256 secret
	expiry    time.Duration // Lifetime of locally minted tokens
	blacklist TokenBlacklist
}

// Claims are the custom claims every token carries.
type Claims struct {
	UserID               string `json:"user_id"` // UUID of the owner or operator
	Role                 string `json:"role"`    // RoleOwner or RoleOperator
	JTI                  string `json:"jti"`     // Unique token ID for blacklisting
	jwt.RegisteredClaims        // Standard JWT claims (exp, iat, nbf)
}

// NewJWTService creates a token service.
//
// Example:
//
//	jwtSvc := services.NewJWTService(&cfg.JWT, redisDB)
func NewJWTService(cfg *config.JWTConfig, blacklist TokenBlacklist) *JWTService {
	return &JWTService{
		secret:    cfg.Secret,
		expiry:    cfg.AccessExpiry,
		blacklist: blacklist,
	}
}

// GenerateToken mints a token for userID with the given role. Used by the
// token tool for operator accounts and by tests.
func (s *JWTService) GenerateToken(userID uuid.UUID, role string) (string, time.Time, error) {
	if role != RoleOwner && role != RoleOperator {
		return "", time.Time{}, invalid("role", "unknown role %q", role)
	}

	now := time.Now()
	expiresAt := now.Add(s.expiry)
	jti := generateJTI()

	claims := Claims{
		UserID: userID.String(),
		Role:   role,
		JTI:    jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	log.Info().
		Str("user_id", claims.UserID).
		Str("role", role).
		Str("jti", jti).
		Msg("Token issued")

	return token, expiresAt, nil
}

// ValidateToken checks the signature, expiry and blacklist and returns the
// claims. A token without a role is treated as an owner token.
//
// Example:
//
//	claims, err := jwtSvc.ValidateToken(ctx, tokenString)
//	if err != nil {
//	    return nil, fmt.Errorf("unauthorized: %w", err)
//	}
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("invalid user_id claim: %w", err)
	}
	if claims.Role == "" {
		claims.Role = RoleOwner
	}

	blacklisted, err := s.blacklist.IsTokenBlacklisted(ctx, claims.JTI)
	if err != nil {
		log.Error().Err(err).Str("jti", claims.JTI).Msg("Failed to check token blacklist")
		return nil, fmt.Errorf("failed to verify token status: %w", err)
	}
	if blacklisted {
		return nil, fmt.Errorf("token has been revoked")
	}

	return claims, nil
}

// RevokeToken blacklists a token for the rest of its lifetime, cutting off
// whoever holds it. A token that does not verify is a ValidationError; an
// expired one is already useless and is ignored.
func (s *JWTService) RevokeToken(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse token for revocation")
		return invalid("token", "is not a valid access token")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}

	if err := s.blacklist.BlacklistToken(ctx, claims.JTI, ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	log.Info().
		Str("jti", claims.JTI).
		Str("user_id", claims.UserID).
		Msg("Token revoked")

	return nil
}

func (s *JWTService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// generateJTI returns a URL-safe base64 string of 16 random bytes.
func generateJTI() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
