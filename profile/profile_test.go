package profile

import (
	"errors"
	"math/rand"
	"testing"

	"golang.org/x/net/http2"
)

func TestResolveAllNames(t *testing.T) {
	for _, name := range Names() {
		p, err := Resolve(name, "", nil)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", name, err)
		}
		if p.Name != name {
			t.Errorf("Resolve(%q) returned name %q", name, p.Name)
		}
		if p.UserAgent == "" {
			t.Errorf("%s: empty user agent", name)
		}
		if p.HTTP2 == nil {
			t.Fatalf("%s: no HTTP/2 fingerprint", name)
		}
		if got := len(p.HTTP2.PseudoHeaderOrder); got != 4 {
			t.Errorf("%s: pseudo header order has %d entries", name, got)
		}
		if p.JA3 == "" && p.ClientHelloID.Client == "" {
			t.Errorf("%s: neither hello ID nor JA3 set", name)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("netscape_4", "", nil)
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestResolveDefault(t *testing.T) {
	p, err := Resolve("", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != DefaultName {
		t.Errorf("default resolved to %q", p.Name)
	}
}

func TestRandomIsSeedDriven(t *testing.T) {
	a, err := Resolve(RandomName, "", rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resolve(RandomName, "", rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != b.Name {
		t.Errorf("same seed picked %q and %q", a.Name, b.Name)
	}
}

func TestRandomHonorsOS(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		p, err := Resolve(RandomName, OSWindows, rnd)
		if err != nil {
			t.Fatal(err)
		}
		if p.OS != OSWindows {
			t.Fatalf("random + windows drew %s claiming OS %q", p.Name, p.OS)
		}
	}
	for i := 0; i < 200; i++ {
		p, err := Resolve(RandomName, OSAndroid, rnd)
		if err != nil {
			t.Fatal(err)
		}
		if p.OS != OSAndroid {
			t.Fatalf("random + android drew %s claiming OS %q", p.Name, p.OS)
		}
	}
}

func TestOSChangesIdentityNotWire(t *testing.T) {
	win, err := Resolve("chrome_131", OSWindows, nil)
	if err != nil {
		t.Fatal(err)
	}
	lin, err := Resolve("chrome_131", OSLinux, nil)
	if err != nil {
		t.Fatal(err)
	}
	if win.UserAgent == lin.UserAgent {
		t.Error("user agent should differ across OS")
	}
	if win.FingerprintID() == lin.FingerprintID() {
		t.Error("fingerprint IDs should differ across OS")
	}
	if len(win.HTTP2.Settings) != len(lin.HTTP2.Settings) {
		t.Error("HTTP/2 settings should not vary with OS")
	}
	for i, s := range win.HTTP2.Settings {
		if lin.HTTP2.Settings[i] != s {
			t.Errorf("setting %d differs across OS", i)
		}
	}
}

func TestSafariPinsOS(t *testing.T) {
	p, err := Resolve("safari_18.2", OSWindows, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.OS != OSMacOS {
		t.Errorf("safari resolved to OS %q", p.OS)
	}
	ios, err := Resolve("safari_ios_18.1.1", OSLinux, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ios.OS != OSIOS {
		t.Errorf("safari_ios resolved to OS %q", ios.OS)
	}
}

func TestChromeGenerations(t *testing.T) {
	tests := []struct {
		name        string
		wantStreams bool
		wantZstd    bool
	}{
		{"chrome_100", true, false},
		{"chrome_116", true, false},
		{"chrome_124", false, true},
		{"chrome_133", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(tt.name, "", nil)
			if err != nil {
				t.Fatal(err)
			}
			_, has := p.HTTP2.SettingValue(http2.SettingMaxConcurrentStreams)
			if has != tt.wantStreams {
				t.Errorf("MAX_CONCURRENT_STREAMS present = %v, want %v", has, tt.wantStreams)
			}
			var encoding string
			for _, h := range p.Headers {
				if h.Name == "accept-encoding" {
					encoding = h.Value
				}
			}
			hasZstd := false
			for i := 0; i+4 <= len(encoding); i++ {
				if encoding[i:i+4] == "zstd" {
					hasZstd = true
				}
			}
			if hasZstd != tt.wantZstd {
				t.Errorf("accept-encoding %q zstd = %v, want %v", encoding, hasZstd, tt.wantZstd)
			}
		})
	}
}
