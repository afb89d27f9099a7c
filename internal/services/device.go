package services

import (
	"strings"

	"github.com/mileusna/useragent"
)

const unknownDevice = "Unknown Device"

// ExtractDeviceInfo turns a User-Agent header into a short label stored with
// heartbeat and GPS events, so operators can tell which of the owner's
// devices reported a fix.
//
// Example:
//
//	services.ExtractDeviceInfo(r.UserAgent())
//	// "Safari 17.0 · iOS 17.1 · Mobile"
func ExtractDeviceInfo(userAgent string) string {
	if userAgent == "" {
		return unknownDevice
	}

	ua := useragent.Parse(userAgent)

	var parts []string
	if ua.Name != "" {
		parts = append(parts, strings.TrimSpace(ua.Name+" "+ua.Version))
	}
	if ua.OS != "" {
		parts = append(parts, strings.TrimSpace(ua.OS+" "+ua.OSVersion))
	}

	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	}

	if len(parts) == 0 {
		if len(userAgent) > 64 {
			return userAgent[:64] + "..."
		}
		return userAgent
	}

	return strings.Join(parts, " · ")
}
