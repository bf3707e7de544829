package fingerprint

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http2"

	"github.com/keenanhx/guise/profile"
)

// ParseAkamai parses an Akamai HTTP/2 fingerprint string into a preamble
// description.
//
// Format: SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER
//
//	SETTINGS            semicolon-separated "id:value" pairs, in order
//	WINDOW_UPDATE       connection-level WINDOW_UPDATE increment, 0 = none
//	PRIORITY            comma-separated "stream:exclusive:dep:weight" frames,
//	                    or 0 when the browser sends none
//	PSEUDO_HEADER_ORDER comma-separated m/a/s/p letters
//
// Example (Chrome): "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p"
func ParseAkamai(akamai string) (*profile.HTTP2Fingerprint, error) {
	parts := strings.Split(akamai, "|")
	if len(parts) != 4 {
		return nil, fmt.Errorf("akamai: expected 4 pipe-separated fields, got %d", len(parts))
	}

	fp := &profile.HTTP2Fingerprint{}

	if parts[0] != "" {
		for _, pair := range strings.Split(parts[0], ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("akamai: invalid settings pair %q", pair)
			}
			id, err := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 16)
			if err != nil {
				return nil, fmt.Errorf("akamai: invalid settings id %q: %w", kv[0], err)
			}
			val, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("akamai: invalid settings value %q: %w", kv[1], err)
			}
			fp.Settings = append(fp.Settings, profile.Setting{ID: http2.SettingID(id), Val: uint32(val)})
		}
	}

	if s := strings.TrimSpace(parts[1]); s != "" && s != "0" {
		window, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("akamai: invalid window update %q: %w", parts[1], err)
		}
		fp.ConnectionWindow = uint32(window)
	}

	if s := strings.TrimSpace(parts[2]); s != "" && s != "0" {
		for _, entry := range strings.Split(s, ",") {
			frame, err := parsePriorityFrame(strings.TrimSpace(entry))
			if err != nil {
				return nil, err
			}
			fp.PriorityFrames = append(fp.PriorityFrames, frame)
		}
	}

	if parts[3] != "" {
		for _, ch := range strings.Split(strings.TrimSpace(parts[3]), ",") {
			switch strings.TrimSpace(ch) {
			case "m":
				fp.PseudoHeaderOrder = append(fp.PseudoHeaderOrder, ":method")
			case "a":
				fp.PseudoHeaderOrder = append(fp.PseudoHeaderOrder, ":authority")
			case "s":
				fp.PseudoHeaderOrder = append(fp.PseudoHeaderOrder, ":scheme")
			case "p":
				fp.PseudoHeaderOrder = append(fp.PseudoHeaderOrder, ":path")
			default:
				return nil, fmt.Errorf("akamai: unknown pseudo-header identifier %q", ch)
			}
		}
	}

	return fp, nil
}

func parsePriorityFrame(s string) (profile.PriorityFrame, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 4 {
		return profile.PriorityFrame{}, fmt.Errorf("akamai: invalid priority frame %q", s)
	}
	vals := make([]uint64, 4)
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return profile.PriorityFrame{}, fmt.Errorf("akamai: invalid priority frame %q: %w", s, err)
		}
		vals[i] = v
	}
	// The display weight is the wire field plus one.
	weight := vals[3]
	if weight > 0 {
		weight--
	}
	return profile.PriorityFrame{
		StreamID: uint32(vals[0]),
		Priority: profile.Priority{
			Exclusive: vals[1] != 0,
			StreamDep: uint32(vals[2]),
			Weight:    uint8(weight),
		},
	}, nil
}

// AkamaiString renders the canonical Akamai form of an HTTP/2 preamble.
func AkamaiString(fp *profile.HTTP2Fingerprint) string {
	settings := make([]string, 0, len(fp.Settings))
	for _, s := range fp.Settings {
		settings = append(settings, fmt.Sprintf("%d:%d", s.ID, s.Val))
	}

	priority := "0"
	if len(fp.PriorityFrames) > 0 {
		frames := make([]string, 0, len(fp.PriorityFrames))
		for _, f := range fp.PriorityFrames {
			excl := 0
			if f.Exclusive {
				excl = 1
			}
			frames = append(frames, fmt.Sprintf("%d:%d:%d:%d", f.StreamID, excl, f.StreamDep, f.Weight+1))
		}
		priority = strings.Join(frames, ",")
	}

	pseudo := make([]string, 0, len(fp.PseudoHeaderOrder))
	for _, name := range fp.PseudoHeaderOrder {
		switch name {
		case ":method":
			pseudo = append(pseudo, "m")
		case ":authority":
			pseudo = append(pseudo, "a")
		case ":scheme":
			pseudo = append(pseudo, "s")
		case ":path":
			pseudo = append(pseudo, "p")
		}
	}

	return fmt.Sprintf("%s|%d|%s|%s",
		strings.Join(settings, ";"),
		fp.ConnectionWindow,
		priority,
		strings.Join(pseudo, ","))
}
