package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

// ErrInvalidJSON marks a request body that could not be decoded.
var ErrInvalidJSON = errors.New("invalid json body")

// Input sources inspected by the sanitizer and the attack detector.
const (
	SourceBody   = "body"
	SourceQuery  = "query"
	SourceParams = "params"
)

const rawInputKey = "raw_input"

// secretFields are never rewritten nor pattern-checked.
var secretFields = map[string]struct{}{
	"password":        {},
	"senha":           {},
	"newpassword":     {},
	"currentpassword": {},
	"token":           {},
}

func isSecretField(name string) bool {
	_, ok := secretFields[strings.ToLower(name)]
	return ok
}

// InputField is one string value received from the client, before sanitisation.
type InputField struct {
	Source string
	Field  string
	Value  string
}

// RawInput is the request-scoped snapshot of client strings taken before sanitisation.
type RawInput struct {
	Fields []InputField
}

func (r *RawInput) add(source, field, value string) {
	r.Fields = append(r.Fields, InputField{Source: source, Field: field, Value: value})
}

// Sanitizer strips HTML from every client string.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer uses bluemonday's strict policy, which allows no markup at all.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// maxCleanPasses bounds the sanitize/decode loop for nested entity encodings.
const maxCleanPasses = 8

// Clean removes every tag. Entities escaped by the policy are decoded back so plain text survives;
// the value is sanitized again after each decode until it stops changing, so entity-encoded markup
// cannot come back as a live tag. A value that never settles keeps the policy's escaped form.
func (s *Sanitizer) Clean(value string) string {
	if !strings.ContainsAny(value, "<>&") {
		return value
	}
	current := value
	for i := 0; i < maxCleanPasses; i++ {
		escaped := s.policy.Sanitize(current)
		decoded := html.UnescapeString(escaped)
		if decoded == current {
			return decoded
		}
		current = decoded
	}
	return s.policy.Sanitize(current)
}

// Handler rewrites body, query and path params in place and stores the raw snapshot for DetectAttacks.
func (s *Sanitizer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := &RawInput{}

		if err := s.sanitizeBody(c, raw); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		s.sanitizeQuery(c, raw)
		s.sanitizeParams(c, raw)

		c.Set(rawInputKey, raw)
		c.Next()
	}
}

func (s *Sanitizer) sanitizeBody(c *gin.Context, raw *RawInput) error {
	body, err := peekBody(c)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	switch contentType(c) {
	case "application/json":
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.UseNumber()
		var payload any
		if err := decoder.Decode(&payload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		cleaned := walkJSON(payload, "", "", func(field, value string) string {
			raw.add(SourceBody, field, value)
			return s.Clean(value)
		})
		rewritten, err := json.Marshal(cleaned)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		replaceBody(c, rewritten)
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil
		}
		s.cleanValues(values, SourceBody, raw)
		replaceBody(c, []byte(values.Encode()))
	}
	return nil
}

func (s *Sanitizer) sanitizeQuery(c *gin.Context, raw *RawInput) {
	if c.Request.URL.RawQuery == "" {
		return
	}
	values := c.Request.URL.Query()
	s.cleanValues(values, SourceQuery, raw)
	c.Request.URL.RawQuery = values.Encode()
}

func (s *Sanitizer) sanitizeParams(c *gin.Context, raw *RawInput) {
	for i, param := range c.Params {
		if isSecretField(param.Key) {
			continue
		}
		raw.add(SourceParams, param.Key, param.Value)
		c.Params[i].Value = s.Clean(param.Value)
	}
}

func (s *Sanitizer) cleanValues(values url.Values, source string, raw *RawInput) {
	for key, list := range values {
		if isSecretField(key) {
			continue
		}
		for i, value := range list {
			raw.add(source, key, value)
			list[i] = s.Clean(value)
		}
	}
}

// walkJSON applies visit to every non-secret string leaf. key is the nearest object key, used for
// the secret check of array members.
func walkJSON(node any, path, key string, visit func(field, value string) string) any {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			v[k] = walkJSON(child, joinPath(path, k), k, visit)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = walkJSON(child, path+"["+strconv.Itoa(i)+"]", key, visit)
		}
		return v
	case string:
		if isSecretField(key) {
			return v
		}
		return visit(path, v)
	default:
		return v
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func contentType(c *gin.Context) string {
	mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

// peekBody reads the body and restores it for downstream readers.
func peekBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	replaceBody(c, body)
	return body, err
}

func replaceBody(c *gin.Context, body []byte) {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Request.ContentLength = int64(len(body))
	c.Request.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

// rawInputFor returns the sanitizer's snapshot or, when the sanitizer did not run, collects one.
func rawInputFor(c *gin.Context) *RawInput {
	if value, ok := c.Get(rawInputKey); ok {
		if raw, ok := value.(*RawInput); ok {
			return raw
		}
	}

	raw := &RawInput{}
	if body, err := peekBody(c); err == nil && len(bytes.TrimSpace(body)) > 0 {
		switch contentType(c) {
		case "application/json":
			var payload any
			if json.Unmarshal(body, &payload) == nil {
				walkJSON(payload, "", "", func(field, value string) string {
					raw.add(SourceBody, field, value)
					return value
				})
			}
		case "application/x-www-form-urlencoded":
			if values, err := url.ParseQuery(string(body)); err == nil {
				collectValues(values, SourceBody, raw)
			}
		}
	}
	collectValues(c.Request.URL.Query(), SourceQuery, raw)
	for _, param := range c.Params {
		if !isSecretField(param.Key) {
			raw.add(SourceParams, param.Key, param.Value)
		}
	}
	return raw
}

func collectValues(values url.Values, source string, raw *RawInput) {
	for key, list := range values {
		if isSecretField(key) {
			continue
		}
		for _, value := range list {
			raw.add(source, key, value)
		}
	}
}
