package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequestReset starts a password reset. The answer is identical whether or not the e-mail exists.
func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req ResetRequest
	if !bindJSON(c, &req) {
		return
	}

	message, err := h.auth.InitiatePasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Envelope: ok(message)})
}

// VerifyReset checks a reset token before the user picks a new password.
func (h *AuthHandler) VerifyReset(c *gin.Context) {
	var req VerifyResetRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.auth.VerifyResetToken(c.Request.Context(), req.Email, req.Token); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, VerifyResetResponse{Envelope: ok("Token válido"), OK: true})
}

// ConfirmReset consumes a reset token and stores the new password.
func (h *AuthHandler) ConfirmReset(c *gin.Context) {
	var req ConfirmResetRequest
	if !bindJSON(c, &req) {
		return
	}

	var err error
	if strings.TrimSpace(req.Email) != "" {
		err = h.auth.ConfirmPasswordResetForEmail(c.Request.Context(), req.Email, req.Token, req.NewPassword)
	} else {
		err = h.auth.ConfirmPasswordReset(c.Request.Context(), req.Token, req.NewPassword)
	}
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Envelope: ok("Senha redefinida com sucesso")})
}
