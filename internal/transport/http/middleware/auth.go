package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/usecase"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*security.Claims, error)
}

// SessionToucher confirms the session behind a token is still active.
type SessionToucher interface {
	TouchSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// RequireAuth validates the Authorization header, checks the token's session and stores the claims.
// Failures are attached with c.Error so the error handler renders them and records ACCESS_DENIED.
func RequireAuth(tokens TokenVerifier, sessions SessionToucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			denyAuth(c, usecase.ErrUnauthorized)
			return
		}

		claims, err := tokens.Verify(token)
		if err != nil {
			denyAuth(c, err)
			return
		}

		if sessions != nil && claims.SessionID != "" {
			if _, err := sessions.TouchSession(c.Request.Context(), claims.SessionID); err != nil {
				if errors.Is(err, usecase.ErrSessionNotFound) {
					err = usecase.ErrSessionNotActive
				}
				denyAuth(c, err)
				return
			}
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(ClaimsKey, claims)

		reqCtx := GetRequestContext(c)
		reqCtx.UserID = claims.UserID
		syncRequestMeta(c, reqCtx)

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func denyAuth(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
