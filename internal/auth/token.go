package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/quieted/internal/model"
)

const tokenIssuer = "quieted"

// ErrInvalidToken はセッションCookieのトークンが検証できないことを表す。
var ErrInvalidToken = errors.New("invalid session token")

// TokenSigner はセッションIDをHS256で署名したCookie値を発行・検証する。
// jtiにセッションID、subにアカウントIDを入れる。
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner はTokenSignerを生成する。
func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), now: time.Now}
}

// Sign はセッションに対応する署名付きトークンを生成する。
func (s *TokenSigner) Sign(session *model.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        session.ID,
		Subject:   strconv.FormatInt(session.AccountID, 10),
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、セッションIDとアカウントIDを返す。
func (s *TokenSigner) Verify(raw string) (sessionID string, accountID int64, err error) {
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ID == "" {
		return "", 0, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	accountID, err = strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}

	return claims.ID, accountID, nil
}
