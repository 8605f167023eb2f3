package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
)

func TestFileSinkCreatesLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "security.log")
	sink, err := NewFileSink(config.AuditSettings{FilePath: path, MaxSizeMB: 5, MaxBackups: 5})
	if err != nil {
		t.Fatalf("NewFileSink returned error: %v", err)
	}

	event := domain.NewAuditEvent(domain.AuditSecurity, domain.SeverityHigh, time.Now(), domain.RequestMeta{})
	event.Security = &domain.SecurityDetail{Event: domain.SecurityBruteForce, Attempts: 10}
	if err := sink.Append(context.Background(), event); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), domain.SecurityBruteForce) {
		t.Fatalf("expected brute-force event in log, got %q", data)
	}
}

func TestFileSinkRequiresPath(t *testing.T) {
	if _, err := NewFileSink(config.AuditSettings{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
