package device

import (
	"strings"

	"github.com/mileusna/useragent"

	"forum-core/internal/domain"
)

// ParseUserAgent derives browser, OS and device class from a raw user-agent
// string. Undetectable devices are classed as desktop.
func ParseUserAgent(raw string) domain.DeviceInfo {
	info := domain.DeviceInfo{
		UserAgent: raw,
		Class:     domain.DeviceDesktop,
	}
	if strings.TrimSpace(raw) == "" {
		return info
	}

	ua := useragent.Parse(raw)
	info.Browser = ua.Name
	info.OS = ua.OS

	switch {
	case ua.Tablet:
		info.Class = domain.DeviceTablet
	case ua.Mobile:
		info.Class = domain.DeviceMobile
	}
	return info
}
