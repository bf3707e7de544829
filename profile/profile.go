// Package profile holds the browser identities the client can assume. A
// profile bundles everything that shows up on the wire for one browser
// version on one operating system: the TLS ClientHello layout, the HTTP/2
// connection preamble, and the ordered default header set.
package profile

import (
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// OS selects which operating system the profile claims in its User-Agent
// and client hint headers.
type OS string

const (
	OSWindows OS = "windows"
	OSMacOS   OS = "macos"
	OSLinux   OS = "linux"
	OSAndroid OS = "android"
	OSIOS     OS = "ios"
)

// Profile is a complete wire identity. Two connections built from the same
// profile produce identical TLS and HTTP/2 fingerprints apart from GREASE
// values, which are drawn fresh for every handshake.
type Profile struct {
	// Name is the registry key, e.g. "chrome_131" or "firefox_135".
	Name string

	// Browser is the family: "chrome", "edge", "firefox", "safari", "okhttp".
	Browser string

	// OS the profile claims. Fixed for Safari variants, configurable
	// otherwise.
	OS OS

	// ClientHelloID selects a built-in ClientHello layout. Ignored when
	// JA3 is set.
	ClientHelloID utls.ClientHelloID

	// JA3 describes a custom ClientHello layout for browsers without a
	// built-in hello. Parsed at dial time.
	JA3 string

	// HTTP2 is the connection preamble sent when ALPN negotiates h2.
	HTTP2 *HTTP2Fingerprint

	// Headers are the browser's default request headers in the exact order
	// the browser emits them. Values here are defaults; callers override by
	// name without disturbing the order.
	Headers []Header

	// UserAgent duplicates the user-agent header value for quick access.
	UserAgent string
}

// FingerprintID keys connection pools. Connections are never shared between
// two different fingerprint IDs.
func (p *Profile) FingerprintID() string {
	return p.Name + "/" + string(p.OS)
}

// Header is one entry of an ordered header template.
type Header struct {
	Name  string
	Value string
}

// Setting is one HTTP/2 SETTINGS parameter. Order within the frame is part
// of the fingerprint, so settings are kept as a slice, not a map.
type Setting struct {
	ID  http2.SettingID
	Val uint32
}

// Priority carries the priority bits set on a HEADERS frame.
type Priority struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8
}

// PriorityFrame is a standalone PRIORITY frame sent right after the
// connection preamble. Firefox builds a dependency tree this way.
type PriorityFrame struct {
	StreamID uint32
	Priority
}

// HTTP2Fingerprint describes everything the client sends before and around
// the first request on an h2 connection.
type HTTP2Fingerprint struct {
	// Settings in emission order.
	Settings []Setting

	// ConnectionWindow is the WINDOW_UPDATE increment sent after SETTINGS.
	// Zero means no connection-level WINDOW_UPDATE.
	ConnectionWindow uint32

	// HeaderPriority, when set, puts priority bits on every HEADERS frame.
	HeaderPriority *Priority

	// PriorityFrames are sent once, after the preamble.
	PriorityFrames []PriorityFrame

	// PseudoHeaderOrder lists ":method", ":path", ":scheme", ":authority"
	// in the order this browser emits them.
	PseudoHeaderOrder []string
}

// SettingValue returns the value for id and whether the profile sends it.
func (f *HTTP2Fingerprint) SettingValue(id http2.SettingID) (uint32, bool) {
	for _, s := range f.Settings {
		if s.ID == id {
			return s.Val, true
		}
	}
	return 0, false
}
