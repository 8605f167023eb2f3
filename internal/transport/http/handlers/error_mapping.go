package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/transport/http/middleware"
	"github.com/sigmapli/cadastro-auth/internal/usecase"
)

// ErrorCase maps a sentinel error to an explicit status, code and message.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// RespondWithMappedError attaches err for the error handler. A matching case overrides the default
// classification.
func RespondWithMappedError(c *gin.Context, err error, cases ...ErrorCase) {
	if err == nil {
		return
	}
	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			err = middleware.NewHTTPError(cs.Status, cs.Code, cs.Message, err)
			break
		}
	}
	_ = c.Error(err)
	c.Abort()
}

// bindJSON decodes the body into dst. Syntax errors are reported as invalid JSON, everything else
// as a validation failure.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	// Truncated and empty bodies surface as EOF errors from the decoder.
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %v", middleware.ErrInvalidJSON, err)
	} else {
		err = fmt.Errorf("%w: %v", usecase.ErrValidation, err)
	}
	RespondWithMappedError(c, err)
	return false
}
