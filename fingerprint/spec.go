package fingerprint

import (
	tls "github.com/refraction-networking/utls"

	"github.com/keenanhx/guise/profile"
)

// SpecFor materializes the ClientHello layout for a profile, either from its
// built-in hello ID or from its JA3 string. The returned spec is freshly
// built each call; GREASE slots draw their values during the handshake.
func SpecFor(p *profile.Profile) (*tls.ClientHelloSpec, error) {
	if p.JA3 != "" {
		return ParseJA3(p.JA3, nil)
	}
	spec, err := tls.UTLSIdToSpec(p.ClientHelloID)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// ProfileJA3 is the canonical JA3 string of a profile's hello layout.
func ProfileJA3(p *profile.Profile) (string, error) {
	spec, err := SpecFor(p)
	if err != nil {
		return "", err
	}
	return JA3String(spec), nil
}

// ProfileAkamai is the canonical Akamai string of a profile's HTTP/2
// preamble, or empty when the profile has none.
func ProfileAkamai(p *profile.Profile) string {
	if p.HTTP2 == nil {
		return ""
	}
	return AkamaiString(p.HTTP2)
}
