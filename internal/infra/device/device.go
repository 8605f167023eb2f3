package device

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

const unknown = "Unknown"

// Parse derives a coarse device descriptor from a User-Agent header.
func Parse(userAgent string) domain.Device {
	info := domain.Device{Browser: unknown, Version: unknown, OS: unknown, Class: "Desktop"}
	if strings.TrimSpace(userAgent) == "" {
		return info
	}

	ua := useragent.New(userAgent)

	if name, version := ua.Browser(); name != "" {
		info.Browser = name
		if major, _, _ := strings.Cut(version, "."); major != "" {
			info.Version = major
		}
	}
	if osInfo := ua.OSInfo(); osInfo.Name != "" {
		info.OS = osInfo.Name
	}

	switch {
	case ua.Bot():
		info.Class = "Bot"
	case strings.Contains(userAgent, "iPad") || strings.Contains(userAgent, "Tablet"):
		info.Class = "Tablet"
	case ua.Mobile():
		info.Class = "Mobile"
	}

	return info
}
