package utils

import (
	"strings"

	"github.com/mssola/user_agent"
)

// botMarkers catches crawlers and link-preview fetchers the parser misses.
var botMarkers = []string{
	"bot", "crawler", "spider", "facebookexternalhit", "whatsapp",
	"slurp", "embedly", "discord", "preview", "curl/", "wget/",
}

// IsBot reports whether ua belongs to a crawler or link unfurler.
func IsBot(ua string) bool {
	if ua == "" {
		return false
	}
	if user_agent.New(ua).Bot() {
		return true
	}
	lower := strings.ToLower(ua)
	for _, m := range botMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// DescribeUserAgent returns a short "Browser on OS" label.
func DescribeUserAgent(ua string) string {
	if ua == "" {
		return "unknown"
	}
	if strings.Contains(ua, "okhttp") {
		return "Android App"
	}
	parsed := user_agent.New(ua)
	browser, _ := parsed.Browser()
	os := parsed.OS()
	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	default:
		return ua
	}
}
