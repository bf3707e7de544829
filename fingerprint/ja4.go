package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	tls "github.com/refraction-networking/utls"

	"github.com/keenanhx/guise/profile"
)

// JA4String renders the JA4 form of a ClientHelloSpec (FoxIO JA4+ spec,
// TCP transport). GREASE values are excluded throughout, and the cipher and
// extension hashes sort their inputs, so the result is stable across
// connections and across shuffled hellos alike.
func JA4String(spec *tls.ClientHelloSpec) string {
	var ciphers []uint16
	for _, c := range spec.CipherSuites {
		if !IsGREASE(c) {
			ciphers = append(ciphers, c)
		}
	}

	var (
		extIDs  []uint16
		sigAlgs []tls.SignatureScheme
		alpn    []string
		hasSNI  bool
	)
	for _, ext := range spec.Extensions {
		id, ok := extensionID(ext)
		if !ok {
			continue
		}
		extIDs = append(extIDs, id)
		switch e := ext.(type) {
		case *tls.SNIExtension:
			hasSNI = true
		case *tls.SignatureAlgorithmsExtension:
			sigAlgs = e.SupportedSignatureAlgorithms
		case *tls.ALPNExtension:
			alpn = e.AlpnProtocols
		}
	}

	version := "12"
	if spec.TLSVersMax >= tls.VersionTLS13 {
		version = "13"
	}
	// supported_versions raises the effective maximum above the legacy field.
	for _, id := range extIDs {
		if id == 43 {
			version = "13"
			break
		}
	}

	sni := "i"
	if hasSNI {
		sni = "d"
	}

	alpnCode := "00"
	if len(alpn) > 0 && alpn[0] != "" {
		first := alpn[0]
		alpnCode = string(first[0]) + string(first[len(first)-1])
	}

	// SNI and ALPN are excluded from the extension hash per the JA4 spec.
	var hashedExts []uint16
	for _, id := range extIDs {
		if id == 0 || id == 16 {
			continue
		}
		hashedExts = append(hashedExts, id)
	}

	a := fmt.Sprintf("t%s%s%02d%02d%s", version, sni, capAt99(len(ciphers)), capAt99(len(extIDs)), alpnCode)
	return a + "_" + hashHexList(sortedHex(ciphers), nil) + "_" + hashHexList(sortedHex(hashedExts), sigAlgHex(sigAlgs))
}

// ProfileJA4 derives the JA4 string a profile produces on the wire.
func ProfileJA4(p *profile.Profile) (string, error) {
	spec, err := SpecFor(p)
	if err != nil {
		return "", err
	}
	return JA4String(spec), nil
}

func capAt99(n int) int {
	if n > 99 {
		return 99
	}
	return n
}

func sortedHex(values []uint16) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprintf("%04x", v))
	}
	sort.Strings(out)
	return out
}

func sigAlgHex(algs []tls.SignatureScheme) []string {
	// Signature algorithms keep their declared order, unlike the sorted
	// cipher and extension lists.
	out := make([]string, 0, len(algs))
	for _, a := range algs {
		if IsGREASE(uint16(a)) {
			continue
		}
		out = append(out, fmt.Sprintf("%04x", uint16(a)))
	}
	return out
}

// hashHexList joins values with commas (appending an underscore-separated
// suffix list when present) and returns the first 12 hex chars of the
// SHA-256. An empty input renders as twelve zeros per the JA4 spec.
func hashHexList(values, suffix []string) string {
	if len(values) == 0 && len(suffix) == 0 {
		return "000000000000"
	}
	joined := strings.Join(values, ",")
	if len(suffix) > 0 {
		joined += "_" + strings.Join(suffix, ",")
	}
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:12]
}
