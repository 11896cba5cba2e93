// Package classify guesses whether a device is on wired LAN or WiFi
// from latency characteristics and naming hints.
//
// The weights are a hand-tuned scoring table, not a model; adjust the
// table, don't bolt logic on top of it.
package classify

import (
	"strings"

	"github.com/c4g7-dev/netwatch/internal/netinfo"
)

// Verdict is the classification outcome.
type Verdict string

const (
	Lan     Verdict = "lan"
	Wifi    Verdict = "wifi"
	Unknown Verdict = "unknown"
)

// wifiVendorPrefixes are MAC OUIs of known WiFi-chipset/mobile vendors.
var wifiVendorPrefixes = map[string]struct{}{
	// Apple mobile devices
	"00:1C:B3": {}, "00:21:E9": {}, "00:25:BC": {}, "00:26:08": {}, "00:26:B0": {}, "00:26:BB": {},
	"04:0C:CE": {}, "04:15:52": {}, "04:26:65": {}, "04:52:F3": {}, "04:54:53": {}, "04:DB:56": {},
	"10:93:E9": {}, "10:9A:DD": {}, "14:5A:05": {}, "18:E7:F4": {}, "1C:1A:C0": {}, "1C:36:BB": {},
	// Common WiFi chipset vendors
	"00:0C:43": {}, // Ralink
	"00:17:9A": {}, // D-Link WiFi
	"00:1A:2B": {}, // Cisco/Linksys WiFi
}

// wifiHostnameKeywords suggest mobile/portable devices.
var wifiHostnameKeywords = []string{
	"phone", "ipad", "iphone", "android", "tablet", "mobile",
	"galaxy", "pixel", "oneplus", "xiaomi", "huawei", "oppo",
	"laptop", "macbook", "surface", "chromebook",
}

// lanHostnameKeywords suggest infrastructure or desktop machines.
var lanHostnameKeywords = []string{
	"nas", "server", "switch", "router", "gateway", "printer",
	"desktop", "workstation", "pc-", "-pc", "tower",
}

// Hints is the device snapshot the classifier scores.
// Nil PingMs/JitterMs mean "not measured".
type Hints struct {
	PingMs   *float64
	JitterMs *float64
	Hostname string
	MAC      string
}

// Classification is the scored verdict. Positive scores lean LAN,
// negative lean WiFi.
type Classification struct {
	Score   int
	Verdict Verdict
}

// Classify scores the hints and returns a verdict.
//
// Thresholds: score >= 2 is lan, <= -2 is wifi; in between, ping alone
// decides (<5ms lan, else wifi). Without any ping data the verdict is
// unknown.
func Classify(h Hints) Classification {
	score := 0

	if h.PingMs != nil {
		switch ping := *h.PingMs; {
		case ping < 2:
			score += 3
		case ping < 5:
			score += 1
		case ping > 20:
			score -= 3
		case ping > 10:
			score -= 2
		}
	}

	if h.JitterMs != nil {
		switch jitter := *h.JitterMs; {
		case jitter < 0.3:
			score += 2
		case jitter < 1:
			score += 1
		case jitter > 5:
			score -= 3
		case jitter > 2:
			score -= 2
		}
	}

	hostname := strings.ToLower(h.Hostname)
	for _, kw := range wifiHostnameKeywords {
		if strings.Contains(hostname, kw) {
			score -= 2
			break
		}
	}
	for _, kw := range lanHostnameKeywords {
		if strings.Contains(hostname, kw) {
			score += 2
			break
		}
	}

	if len(h.MAC) >= 8 {
		prefix := strings.ToUpper(h.MAC[:8])
		if _, ok := wifiVendorPrefixes[prefix]; ok {
			score--
		}
	}

	c := Classification{Score: score}
	switch {
	case score >= 2:
		c.Verdict = Lan
	case score <= -2:
		c.Verdict = Wifi
	case h.PingMs != nil:
		if *h.PingMs < 5 {
			c.Verdict = Lan
		} else {
			c.Verdict = Wifi
		}
	default:
		c.Verdict = Unknown
	}
	return c
}

// LocalHost classifies the machine we run on by inspecting its active
// interface instead of scoring ping heuristics against ourselves.
func LocalHost() Verdict {
	if netinfo.LocalLinkWired() {
		return Lan
	}
	return Wifi
}
