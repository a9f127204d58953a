package settings

import "strings"

// apiSuffixes are path suffixes users commonly paste along with an Xtream or
// panel URL. They are stripped back to the origin so clients can append the
// endpoint they actually need.
var apiSuffixes = []string{
	"/player_api.php",
	"/panel_api.php",
	"/get.php",
	"/c",
}

// NormalizeEndpoint canonicalizes a user-supplied server address:
//   - trims surrounding whitespace
//   - prepends "http://" when no scheme is present
//   - strips any trailing slash
//   - strips known API path suffixes back to the origin
//
// The result feeds straight into the request clients, so this function must
// be idempotent: NormalizeEndpoint(NormalizeEndpoint(x)) == NormalizeEndpoint(x).
func NormalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return ""
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}

	endpoint = strings.TrimSuffix(endpoint, "/")

	for _, suffix := range apiSuffixes {
		if strings.HasSuffix(endpoint, suffix) {
			endpoint = strings.TrimSuffix(endpoint, suffix)
			break
		}
	}

	// Suffix stripping can expose another trailing slash ("host//c")
	return strings.TrimSuffix(endpoint, "/")
}
