package profile

import (
	"fmt"
	"strings"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// HTTP/2 preambles are shared per browser family. Versions within a family
// differ only where the browser actually changed its emission.

func chromeHTTP2(major int) *HTTP2Fingerprint {
	var settings []Setting
	switch {
	case major < 107:
		settings = []Setting{
			{http2.SettingHeaderTableSize, 65536},
			{http2.SettingMaxConcurrentStreams, 1000},
			{http2.SettingInitialWindowSize, 6291456},
			{http2.SettingMaxFrameSize, 16384},
			{http2.SettingMaxHeaderListSize, 262144},
		}
	case major < 120:
		settings = []Setting{
			{http2.SettingHeaderTableSize, 65536},
			{http2.SettingEnablePush, 0},
			{http2.SettingMaxConcurrentStreams, 1000},
			{http2.SettingInitialWindowSize, 6291456},
			{http2.SettingMaxHeaderListSize, 262144},
		}
	default:
		settings = []Setting{
			{http2.SettingHeaderTableSize, 65536},
			{http2.SettingEnablePush, 0},
			{http2.SettingInitialWindowSize, 6291456},
			{http2.SettingMaxHeaderListSize, 262144},
		}
	}
	return &HTTP2Fingerprint{
		Settings:          settings,
		ConnectionWindow:  15663105,
		HeaderPriority:    &Priority{StreamDep: 0, Exclusive: true, Weight: 255},
		PseudoHeaderOrder: []string{":method", ":authority", ":scheme", ":path"},
	}
}

func firefoxHTTP2() *HTTP2Fingerprint {
	return &HTTP2Fingerprint{
		Settings: []Setting{
			{http2.SettingHeaderTableSize, 65536},
			{http2.SettingInitialWindowSize, 131072},
			{http2.SettingMaxFrameSize, 16384},
		},
		ConnectionWindow: 12517377,
		HeaderPriority:   &Priority{StreamDep: 13, Exclusive: false, Weight: 41},
		PriorityFrames: []PriorityFrame{
			{StreamID: 3, Priority: Priority{StreamDep: 0, Weight: 200}},
			{StreamID: 5, Priority: Priority{StreamDep: 0, Weight: 100}},
			{StreamID: 7, Priority: Priority{StreamDep: 0, Weight: 0}},
			{StreamID: 9, Priority: Priority{StreamDep: 7, Weight: 0}},
			{StreamID: 11, Priority: Priority{StreamDep: 3, Weight: 0}},
			{StreamID: 13, Priority: Priority{StreamDep: 0, Weight: 240}},
		},
		PseudoHeaderOrder: []string{":method", ":path", ":authority", ":scheme"},
	}
}

func safariHTTP2() *HTTP2Fingerprint {
	return &HTTP2Fingerprint{
		Settings: []Setting{
			{http2.SettingEnablePush, 0},
			{http2.SettingInitialWindowSize, 4194304},
			{http2.SettingMaxConcurrentStreams, 100},
		},
		ConnectionWindow:  10485760,
		HeaderPriority:    &Priority{StreamDep: 0, Exclusive: false, Weight: 254},
		PseudoHeaderOrder: []string{":method", ":scheme", ":path", ":authority"},
	}
}

func okhttpHTTP2() *HTTP2Fingerprint {
	return &HTTP2Fingerprint{
		Settings: []Setting{
			{http2.SettingInitialWindowSize, 16777216},
		},
		ConnectionWindow:  16711681,
		PseudoHeaderOrder: []string{":method", ":path", ":authority", ":scheme"},
	}
}

func chromeHelloID(major int) utls.ClientHelloID {
	switch {
	case major < 102:
		return utls.HelloChrome_100
	case major < 106:
		return utls.HelloChrome_102
	case major < 120:
		return utls.HelloChrome_106_Shuffle
	case major < 124:
		return utls.HelloChrome_120
	case major < 131:
		return utls.HelloChrome_120_PQ
	case major < 133:
		return utls.HelloChrome_131
	default:
		return utls.HelloChrome_133
	}
}

func firefoxHelloID(major int) utls.ClientHelloID {
	if major < 120 {
		return utls.HelloFirefox_105
	}
	return utls.HelloFirefox_120
}

// OkHttp has no built-in hello, so its layout is carried as a JA3 string and
// assembled at dial time.
const okhttpJA3 = "771,4865-4866-4867-49195-49196-52393-49199-49200-52392-49171-49172-156-157-47-53,0-23-65281-10-11-35-16-5-13-51-45-43-21,29-23-24,0"

func chromeUA(os OS, major int, edge bool) string {
	suffix := ""
	if edge {
		suffix = fmt.Sprintf(" Edg/%d.0.0.0", major)
	}
	switch os {
	case OSMacOS:
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36%s", major, suffix)
	case OSLinux:
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36%s", major, suffix)
	case OSAndroid:
		return fmt.Sprintf("Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Mobile Safari/537.36%s", major, suffix)
	case OSIOS:
		return fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/%d.0.0.0 Mobile/15E148 Safari/604.1", major)
	default:
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36%s", major, suffix)
	}
}

func firefoxUA(os OS, major int) string {
	switch os {
	case OSMacOS:
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:%d.0) Gecko/20100101 Firefox/%d.0", major, major)
	case OSLinux:
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64; rv:%d.0) Gecko/20100101 Firefox/%d.0", major, major)
	case OSAndroid:
		return fmt.Sprintf("Mozilla/5.0 (Android 13; Mobile; rv:%d.0) Gecko/%d.0 Firefox/%d.0", major, major, major)
	default:
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%d.0) Gecko/20100101 Firefox/%d.0", major, major)
	}
}

func hintPlatform(os OS) string {
	switch os {
	case OSMacOS:
		return "macOS"
	case OSLinux:
		return "Linux"
	case OSAndroid:
		return "Android"
	default:
		return "Windows"
	}
}

func secChUA(brand string, major int) string {
	// Brand ordering rotates in real browsers; the stable form is accepted
	// everywhere and keeps the header deterministic per profile.
	return fmt.Sprintf(`"Chromium";v="%d", "Not_A Brand";v="24", "%s";v="%d"`, major, brand, major)
}

func chromeHeaders(os OS, major int, brand string) []Header {
	ua := chromeUA(os, major, brand == "Microsoft Edge")
	mobile := "?0"
	if os == OSAndroid {
		mobile = "?1"
	}
	encoding := "gzip, deflate, br"
	if major >= 124 {
		encoding = "gzip, deflate, br, zstd"
	}
	h := []Header{
		{"sec-ch-ua", secChUA(brand, major)},
		{"sec-ch-ua-mobile", mobile},
		{"sec-ch-ua-platform", `"` + hintPlatform(os) + `"`},
		{"upgrade-insecure-requests", "1"},
		{"user-agent", ua},
		{"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
		{"sec-fetch-site", "none"},
		{"sec-fetch-mode", "navigate"},
		{"sec-fetch-user", "?1"},
		{"sec-fetch-dest", "document"},
		{"accept-encoding", encoding},
		{"accept-language", "en-US,en;q=0.9"},
	}
	if major >= 124 {
		h = append(h, Header{"priority", "u=0, i"})
	}
	return h
}

func firefoxHeaders(os OS, major int) []Header {
	encoding := "gzip, deflate, br"
	if major >= 126 {
		encoding = "gzip, deflate, br, zstd"
	}
	h := []Header{
		{"user-agent", firefoxUA(os, major)},
		{"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/png,image/svg+xml,*/*;q=0.8"},
		{"accept-language", "en-US,en;q=0.5"},
		{"accept-encoding", encoding},
		{"upgrade-insecure-requests", "1"},
		{"sec-fetch-dest", "document"},
		{"sec-fetch-mode", "navigate"},
		{"sec-fetch-site", "none"},
		{"sec-fetch-user", "?1"},
	}
	if major >= 128 {
		h = append(h, Header{"priority", "u=0, i"})
	}
	h = append(h, Header{"te", "trailers"})
	return h
}

func safariUA(os OS, version string) string {
	osToken := strings.ReplaceAll(version, ".", "_")
	switch os {
	case OSIOS:
		return fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1", osToken, version)
	default:
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", version)
	}
}

func safariHeaders(os OS, version string) []Header {
	return []Header{
		{"sec-fetch-dest", "document"},
		{"user-agent", safariUA(os, version)},
		{"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		{"sec-fetch-site", "none"},
		{"sec-fetch-mode", "navigate"},
		{"accept-language", "en-US,en;q=0.9"},
		{"accept-encoding", "gzip, deflate, br"},
	}
}

func okhttpHeaders(version string) []Header {
	return []Header{
		{"user-agent", "okhttp/" + version},
		{"accept-encoding", "gzip"},
	}
}

func userAgentOf(headers []Header) string {
	for _, h := range headers {
		if h.Name == "user-agent" {
			return h.Value
		}
	}
	return ""
}
