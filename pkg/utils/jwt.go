package utils

import (
	"fmt"
	"strconv"
	"time"

	"foreman-pm-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService JWT服务
type JWTService struct {
	secretKey []byte
	method    jwt.SigningMethod
	expiry    time.Duration
}

// NewJWTService 创建JWT服务
//
// algorithm is one of HS256, HS384 or HS512; anything else falls back to HS256.
func NewJWTService(secretKey, algorithm string, expiry time.Duration) *JWTService {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		method = jwt.SigningMethodHS256
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		method:    method,
		expiry:    expiry,
	}
}

// GenerateAccessToken 生成访问令牌，subject 为 telegram id
func (j *JWTService) GenerateAccessToken(telegramID int64) (string, int64, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Subject: strconv.FormatInt(telegramID, 10),
		Type:    "access",
		Exp:     now.Add(j.expiry).Unix(),
		Iat:     now.Unix(),
	}

	token, err := jwt.NewWithClaims(j.method, claims).SignedString(j.secretKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, int64(j.expiry.Seconds()), nil
}

// ValidateToken 验证令牌
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Type != "access" {
		return nil, fmt.Errorf("invalid token type: %s", claims.Type)
	}
	if _, err := claims.TelegramID(); err != nil {
		return nil, fmt.Errorf("invalid token subject: %w", err)
	}
	return claims, nil
}
