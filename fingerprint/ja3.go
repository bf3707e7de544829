// Package fingerprint converts between wire-level TLS and HTTP/2 layouts and
// their canonical string forms (JA3 and Akamai).
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	tls "github.com/refraction-networking/utls"
)

// JA3Extras supplies extension payloads that the JA3 string cannot encode.
// JA3 records extension IDs only, so ALPN protocols, signature algorithms and
// similar contents come from here.
type JA3Extras struct {
	SignatureAlgorithms []tls.SignatureScheme
	ALPN                []string
	CertCompAlgs        []tls.CertCompressionAlgo
	RecordSizeLimit     uint16
}

func defaultJA3Extras() *JA3Extras {
	return &JA3Extras{
		SignatureAlgorithms: []tls.SignatureScheme{
			tls.ECDSAWithP256AndSHA256,
			tls.PSSWithSHA256,
			tls.PKCS1WithSHA256,
			tls.ECDSAWithP384AndSHA384,
			tls.PSSWithSHA384,
			tls.PKCS1WithSHA384,
			tls.PSSWithSHA512,
			tls.PKCS1WithSHA512,
		},
		ALPN:            []string{"h2", "http/1.1"},
		CertCompAlgs:    []tls.CertCompressionAlgo{tls.CertCompressionBrotli},
		RecordSizeLimit: 0x4001,
	}
}

// IsGREASE reports whether v is a GREASE value (RFC 8701).
func IsGREASE(v uint16) bool {
	return (v & 0x0f0f) == 0x0a0a
}

// ParseJA3 builds a ClientHelloSpec from a JA3 string of the form
// version,ciphers,extensions,curves,pointFormats with dash-separated decimal
// values. GREASE values in the string become fresh GREASE slots rather than
// literal values. A nil extras uses Chrome-like payload defaults.
func ParseJA3(ja3 string, extras *JA3Extras) (*tls.ClientHelloSpec, error) {
	if extras == nil {
		extras = defaultJA3Extras()
	} else {
		merged := *extras
		extras = &merged
		defaults := defaultJA3Extras()
		if len(extras.SignatureAlgorithms) == 0 {
			extras.SignatureAlgorithms = defaults.SignatureAlgorithms
		}
		if len(extras.ALPN) == 0 {
			extras.ALPN = defaults.ALPN
		}
		if len(extras.CertCompAlgs) == 0 {
			extras.CertCompAlgs = defaults.CertCompAlgs
		}
		if extras.RecordSizeLimit == 0 {
			extras.RecordSizeLimit = defaults.RecordSizeLimit
		}
	}

	parts := strings.Split(ja3, ",")
	if len(parts) != 5 {
		return nil, fmt.Errorf("ja3: expected 5 comma-separated fields, got %d", len(parts))
	}

	tlsVersion, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid TLS version %q: %w", parts[0], err)
	}

	cipherSuites, err := parseDashedUint16(parts[1])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid cipher suites: %w", err)
	}
	var ciphers []uint16
	for _, cs := range cipherSuites {
		if !IsGREASE(cs) {
			ciphers = append(ciphers, cs)
		}
	}

	extensionIDs, err := parseDashedUint16(parts[2])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid extensions: %w", err)
	}

	curveIDs, err := parseDashedUint16(parts[3])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid elliptic curves: %w", err)
	}
	var curves []tls.CurveID
	for _, c := range curveIDs {
		if !IsGREASE(c) {
			curves = append(curves, tls.CurveID(c))
		}
	}

	pointFormats, err := parseDashedUint8(parts[4])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid point formats: %w", err)
	}

	var extensions []tls.TLSExtension
	for _, id := range extensionIDs {
		if IsGREASE(id) {
			extensions = append(extensions, &tls.UtlsGREASEExtension{})
			continue
		}
		extensions = append(extensions, extensionForID(id, extras, curves, pointFormats))
	}

	// The ClientHello version field stays 0x0303 even for TLS 1.3 clients;
	// the real maximum lives in supported_versions.
	minVersion := uint16(tls.VersionTLS12)
	maxVersion := uint16(tlsVersion)
	for _, id := range extensionIDs {
		if id == 43 {
			maxVersion = tls.VersionTLS13
			break
		}
	}
	if maxVersion < tls.VersionTLS10 {
		maxVersion = tls.VersionTLS12
	}

	return &tls.ClientHelloSpec{
		TLSVersMin:         minVersion,
		TLSVersMax:         maxVersion,
		CipherSuites:       ciphers,
		CompressionMethods: []uint8{0},
		Extensions:         extensions,
	}, nil
}

func extensionForID(id uint16, extras *JA3Extras, curves []tls.CurveID, pointFormats []uint8) tls.TLSExtension {
	switch id {
	case 0:
		return &tls.SNIExtension{}
	case 5:
		return &tls.StatusRequestExtension{}
	case 10:
		return &tls.SupportedCurvesExtension{Curves: curves}
	case 11:
		return &tls.SupportedPointsExtension{SupportedPoints: pointFormats}
	case 13:
		return &tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: extras.SignatureAlgorithms}
	case 16:
		return &tls.ALPNExtension{AlpnProtocols: extras.ALPN}
	case 17:
		return &tls.StatusRequestV2Extension{}
	case 18:
		return &tls.SCTExtension{}
	case 21:
		return &tls.UtlsPaddingExtension{GetPaddingLen: tls.BoringPaddingStyle}
	case 23:
		return &tls.UtlsExtendedMasterSecretExtension{}
	case 27:
		return &tls.UtlsCompressCertExtension{Algorithms: extras.CertCompAlgs}
	case 28:
		return &tls.FakeRecordSizeLimitExtension{Limit: extras.RecordSizeLimit}
	case 34:
		return &tls.DelegatedCredentialsExtension{
			SupportedSignatureAlgorithms: []tls.SignatureScheme{
				tls.ECDSAWithP256AndSHA256,
				tls.ECDSAWithP384AndSHA384,
				tls.ECDSAWithP521AndSHA512,
				tls.ECDSAWithSHA1,
			},
		}
	case 35:
		return &tls.SessionTicketExtension{}
	case 43:
		return &tls.SupportedVersionsExtension{Versions: []uint16{tls.VersionTLS13, tls.VersionTLS12}}
	case 44:
		return &tls.CookieExtension{}
	case 45:
		return &tls.PSKKeyExchangeModesExtension{Modes: []uint8{tls.PskModeDHE}}
	case 50:
		// Certificate chains may be signed with algorithms the handshake
		// itself no longer offers, so this list is broader than ext 13.
		return &tls.SignatureAlgorithmsCertExtension{
			SupportedSignatureAlgorithms: []tls.SignatureScheme{
				tls.ECDSAWithP256AndSHA256,
				tls.PSSWithSHA256,
				tls.PKCS1WithSHA256,
				tls.ECDSAWithP384AndSHA384,
				tls.PSSWithSHA384,
				tls.PKCS1WithSHA384,
				tls.PSSWithSHA512,
				tls.PKCS1WithSHA512,
				tls.PKCS1WithSHA1,
			},
		}
	case 51:
		// Browsers generate a share only for the preferred group and rely
		// on HelloRetryRequest for the rest.
		var keyShares []tls.KeyShare
		for _, curve := range curves {
			if !IsGREASE(uint16(curve)) {
				keyShares = append(keyShares, tls.KeyShare{Group: curve})
				break
			}
		}
		return &tls.KeyShareExtension{KeyShares: keyShares}
	case 17513:
		return &tls.ApplicationSettingsExtension{SupportedProtocols: extras.ALPN}
	case 65037:
		return &tls.GREASEEncryptedClientHelloExtension{}
	case 65281:
		return &tls.RenegotiationInfoExtension{Renegotiation: tls.RenegotiateOnceAsClient}
	default:
		return &tls.GenericExtension{Id: id}
	}
}

func parseDashedUint16(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

func parseDashedUint8(s string) ([]uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	out := make([]uint8, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out = append(out, uint8(v))
	}
	return out, nil
}

// JA3String renders the canonical JA3 form of a ClientHelloSpec. GREASE
// slots are skipped, so the result is stable across connections even though
// the wire values rotate.
func JA3String(spec *tls.ClientHelloSpec) string {
	var ciphers, exts, curves, points []string

	for _, c := range spec.CipherSuites {
		if !IsGREASE(c) {
			ciphers = append(ciphers, strconv.Itoa(int(c)))
		}
	}
	for _, ext := range spec.Extensions {
		id, ok := extensionID(ext)
		if !ok {
			continue
		}
		exts = append(exts, strconv.Itoa(int(id)))
		switch e := ext.(type) {
		case *tls.SupportedCurvesExtension:
			for _, c := range e.Curves {
				if !IsGREASE(uint16(c)) {
					curves = append(curves, strconv.Itoa(int(c)))
				}
			}
		case *tls.SupportedPointsExtension:
			for _, p := range e.SupportedPoints {
				points = append(points, strconv.Itoa(int(p)))
			}
		}
	}

	// Canonical JA3 records the legacy version field, which tops out at
	// TLS 1.2 on the wire.
	version := spec.TLSVersMax
	if version > tls.VersionTLS12 {
		version = tls.VersionTLS12
	}
	return fmt.Sprintf("%d,%s,%s,%s,%s",
		version,
		strings.Join(ciphers, "-"),
		strings.Join(exts, "-"),
		strings.Join(curves, "-"),
		strings.Join(points, "-"))
}

// JA3Hash is the MD5 of the canonical JA3 string.
func JA3Hash(spec *tls.ClientHelloSpec) string {
	sum := md5.Sum([]byte(JA3String(spec)))
	return hex.EncodeToString(sum[:])
}

// extensionID maps a utls extension back to its wire ID. GREASE slots return
// ok=false since they carry no stable identity.
func extensionID(ext tls.TLSExtension) (uint16, bool) {
	switch e := ext.(type) {
	case *tls.UtlsGREASEExtension:
		return 0, false
	case *tls.SNIExtension:
		return 0, true
	case *tls.StatusRequestExtension:
		return 5, true
	case *tls.SupportedCurvesExtension:
		return 10, true
	case *tls.SupportedPointsExtension:
		return 11, true
	case *tls.SignatureAlgorithmsExtension:
		return 13, true
	case *tls.ALPNExtension:
		return 16, true
	case *tls.StatusRequestV2Extension:
		return 17, true
	case *tls.SCTExtension:
		return 18, true
	case *tls.UtlsPaddingExtension:
		return 21, true
	case *tls.UtlsExtendedMasterSecretExtension:
		return 23, true
	case *tls.UtlsCompressCertExtension:
		return 27, true
	case *tls.FakeRecordSizeLimitExtension:
		return 28, true
	case *tls.DelegatedCredentialsExtension:
		return 34, true
	case *tls.SessionTicketExtension:
		return 35, true
	case *tls.UtlsPreSharedKeyExtension:
		return 41, true
	case *tls.SupportedVersionsExtension:
		return 43, true
	case *tls.CookieExtension:
		return 44, true
	case *tls.PSKKeyExchangeModesExtension:
		return 45, true
	case *tls.SignatureAlgorithmsCertExtension:
		return 50, true
	case *tls.KeyShareExtension:
		return 51, true
	case *tls.NPNExtension:
		return 13172, true
	case *tls.ApplicationSettingsExtension:
		return 17513, true
	case *tls.ApplicationSettingsExtensionNew:
		return 17613, true
	case *tls.GREASEEncryptedClientHelloExtension:
		return 65037, true
	case *tls.RenegotiationInfoExtension:
		return 65281, true
	case *tls.GenericExtension:
		return e.Id, true
	default:
		return 0, false
	}
}
