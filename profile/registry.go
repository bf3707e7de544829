package profile

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	utls "github.com/refraction-networking/utls"
)

// ErrUnknown reports a profile name that is not in the registry.
var ErrUnknown = errors.New("unknown profile")

// DefaultName is used when a caller asks for impersonation without naming a
// profile.
const DefaultName = "chrome_133"

// RandomName selects a uniformly random registry entry at resolve time.
const RandomName = "random"

type builder func(os OS) *Profile

var (
	registry = map[string]builder{}
	names    []string
	nameOnce sync.Once
)

func register(name string, b builder) {
	registry[name] = b
}

// Names returns every registered profile name, sorted.
func Names() []string {
	nameOnce.Do(func() {
		for name := range registry {
			names = append(names, name)
		}
		sort.Strings(names)
	})
	return names
}

// Resolve looks up name and instantiates it for os. An empty name resolves
// to DefaultName, an empty os to the profile's native platform. The name
// "random" draws from rnd, which must not be nil in that case.
func Resolve(name string, os OS, rnd *rand.Rand) (*Profile, error) {
	if name == "" {
		name = DefaultName
	}
	if name == RandomName {
		candidates := Names()
		if os != "" {
			// Profiles that pin their own platform, like Safari, must not
			// be drawn for an OS they would contradict.
			var matching []string
			for _, n := range candidates {
				if registry[n](os).OS == os {
					matching = append(matching, n)
				}
			}
			if len(matching) > 0 {
				candidates = matching
			}
		}
		name = candidates[rnd.Intn(len(candidates))]
	}
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return b(os), nil
}

func chromeProfile(name string, major int, browser, brand string, hello utls.ClientHelloID) builder {
	return func(os OS) *Profile {
		if os == "" {
			os = OSWindows
		}
		headers := chromeHeaders(os, major, brand)
		return &Profile{
			Name:          name,
			Browser:       browser,
			OS:            os,
			ClientHelloID: hello,
			HTTP2:         chromeHTTP2(major),
			Headers:       headers,
			UserAgent:     userAgentOf(headers),
		}
	}
}

func firefoxProfile(name string, major int) builder {
	return func(os OS) *Profile {
		if os == "" {
			os = OSWindows
		}
		headers := firefoxHeaders(os, major)
		return &Profile{
			Name:          name,
			Browser:       "firefox",
			OS:            os,
			ClientHelloID: firefoxHelloID(major),
			HTTP2:         firefoxHTTP2(),
			Headers:       headers,
			UserAgent:     userAgentOf(headers),
		}
	}
}

// Safari profiles pin their OS: desktop builds are macOS, mobile builds iOS.
// A configured OS is ignored so the User-Agent never contradicts the hello.
func safariProfile(name, version string, os OS, hello utls.ClientHelloID) builder {
	return func(OS) *Profile {
		headers := safariHeaders(os, version)
		return &Profile{
			Name:          name,
			Browser:       "safari",
			OS:            os,
			ClientHelloID: hello,
			HTTP2:         safariHTTP2(),
			Headers:       headers,
			UserAgent:     userAgentOf(headers),
		}
	}
}

func okhttpProfile(name, uaVersion string) builder {
	return func(os OS) *Profile {
		if os == "" {
			os = OSAndroid
		}
		headers := okhttpHeaders(uaVersion)
		return &Profile{
			Name:      name,
			Browser:   "okhttp",
			OS:        os,
			JA3:       okhttpJA3,
			HTTP2:     okhttpHTTP2(),
			Headers:   headers,
			UserAgent: userAgentOf(headers),
		}
	}
}

func init() {
	chromeVersions := []int{100, 101, 104, 105, 106, 107, 108, 109, 114, 116, 117, 118, 119, 120, 123, 124, 126, 127, 128, 129, 130, 131, 133}
	for _, v := range chromeVersions {
		name := fmt.Sprintf("chrome_%d", v)
		register(name, chromeProfile(name, v, "chrome", "Google Chrome", chromeHelloID(v)))
	}
	for _, v := range []int{101, 122, 127, 131} {
		name := fmt.Sprintf("edge_%d", v)
		register(name, chromeProfile(name, v, "edge", "Microsoft Edge", chromeHelloID(v)))
	}
	for _, v := range []int{109, 117, 128, 133, 135} {
		name := fmt.Sprintf("firefox_%d", v)
		register(name, firefoxProfile(name, v))
	}
	for _, v := range []string{"15.3", "15.5", "15.6.1", "16", "16.5", "17.0", "17.2.1", "17.4.1", "17.5", "18", "18.2"} {
		name := "safari_" + v
		register(name, safariProfile(name, v, OSMacOS, utls.HelloSafari_16_0))
	}
	for _, v := range []string{"16.5", "17.2", "17.4.1", "18.1.1"} {
		name := "safari_ios_" + v
		register(name, safariProfile(name, v, OSIOS, utls.HelloIOS_14))
	}
	register("safari_ipad_18", safariProfile("safari_ipad_18", "18", OSIOS, utls.HelloIOS_14))
	okhttpVersions := map[string]string{
		"3.9":  "3.9.1",
		"3.11": "3.11.0",
		"3.13": "3.13.1",
		"3.14": "3.14.9",
		"4.9":  "4.9.3",
		"4.10": "4.10.0",
		"4.12": "4.12.0",
		"5":    "5.0.0-alpha.14",
	}
	for v, ua := range okhttpVersions {
		name := "okhttp_" + v
		register(name, okhttpProfile(name, ua))
	}
}
