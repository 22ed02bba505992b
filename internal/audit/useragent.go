package audit

import (
	"fmt"
	"strings"

	"github.com/avct/uasurfer"
)

// SummarizeUserAgent reduces a raw User-Agent to "device/os/browser" so audit
// entries carry a stable, low-cardinality client description instead of the
// full header.
func SummarizeUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	ua := uasurfer.Parse(raw)

	device := "unknown"
	switch ua.DeviceType {
	case uasurfer.DeviceComputer:
		device = "computer"
	case uasurfer.DeviceTablet:
		device = "tablet"
	case uasurfer.DevicePhone:
		device = "phone"
	case uasurfer.DeviceConsole:
		device = "console"
	case uasurfer.DeviceWearable:
		device = "wearable"
	case uasurfer.DeviceTV:
		device = "tv"
	}

	os := strings.ToLower(strings.TrimPrefix(ua.OS.Name.String(), "OS"))
	browser := strings.ToLower(strings.TrimPrefix(ua.Browser.Name.String(), "Browser"))
	return fmt.Sprintf("%s/%s %d.%d/%s %d.%d",
		device,
		os, ua.OS.Version.Major, ua.OS.Version.Minor,
		browser, ua.Browser.Version.Major, ua.Browser.Version.Minor,
	)
}
