// Package useragent classifies raw user-agent strings into an
// (OS family, client family) pair for download statistics. Classification is
// deterministic and side-effect free.
package useragent

import (
	"strings"
	"sync"

	"github.com/ua-parser/uap-go/uaparser"
)

// unknown is the normalized family for anything the parser cannot place.
// The parser itself reports "Other"; that is folded into "Unknown" to keep it
// distinct from the combined "Other" chart group in the UI.
const unknown = "Unknown"

// internalAgents maps known non-browser clients to their display names.
// These are checked by substring against the raw agent string when the parser
// cannot classify the client.
var internalAgents = []struct {
	name       string
	signatures []string
}{
	{"Windows Package Manager", []string{"winget-cli", "Microsoft-Delivery-Optimization", "WindowsPackageManager", "Microsoft BITS"}},
	{"NSIS (plugin)", []string{"NSIS_Inetc"}},
	{"Transmission", []string{"Transmission/"}},
	{"Free Download Manager", []string{"FDM"}},
	{"Patch My PC Client", []string{"Patch My PC Publishing Service"}},
	{"Artifactory", []string{"Artifactory"}},
	{"Scoop/Shovel", []string{"Scoop/", "Shovel/"}},
	{"BigFix", []string{"BigFix"}},
}

var (
	parserOnce sync.Once
	parser     *uaparser.Parser
)

// getParser lazily initializes the shared parser from the embedded regex set.
func getParser() *uaparser.Parser {
	parserOnce.Do(func() {
		parser = uaparser.NewFromSaved()
	})
	return parser
}

// Classification is the normalized (OS, client) pair for one agent string.
type Classification struct {
	OSFamily     string
	ClientFamily string
}

// Key returns the aggregation key "{os} / {client}".
func (c Classification) Key() string {
	return c.OSFamily + " / " + c.ClientFamily
}

// Classify parses a raw user-agent string into its OS and client families.
// Unclassifiable values normalize to "Unknown"; known non-browser clients are
// resolved through the signature table before giving up.
func Classify(raw string) Classification {
	parsed := getParser().Parse(raw)

	osFamily := parsed.Os.Family
	if osFamily == "" || osFamily == "Other" {
		osFamily = unknown
	}

	clientFamily := parsed.UserAgent.Family
	if clientFamily == "" || clientFamily == "Other" {
		clientFamily = lookupInternalAgent(raw)
	}

	return Classification{OSFamily: osFamily, ClientFamily: clientFamily}
}

// lookupInternalAgent matches the raw agent string against the known
// non-standard client signatures, falling back to "Unknown".
func lookupInternalAgent(raw string) string {
	for _, agent := range internalAgents {
		for _, signature := range agent.signatures {
			if strings.Contains(raw, signature) {
				return agent.name
			}
		}
	}
	return unknown
}
