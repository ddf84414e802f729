package preview

import (
	"net/url"
	"strings"
)

// defaultProviders maps embeddable-content domains to their oEmbed
// endpoints. Matching a provider lets us skip fetching the page entirely.
var defaultProviders = map[string]string{
	"youtube.com":    "https://www.youtube.com/oembed",
	"youtu.be":       "https://www.youtube.com/oembed",
	"twitter.com":    "https://publish.twitter.com/oembed",
	"x.com":          "https://publish.twitter.com/oembed",
	"vimeo.com":      "https://vimeo.com/api/oembed.json",
	"soundcloud.com": "https://soundcloud.com/oembed",
	"spotify.com":    "https://open.spotify.com/oembed",
	"tiktok.com":     "https://www.tiktok.com/oembed",
	"reddit.com":     "https://www.reddit.com/oembed",
	"flickr.com":     "https://www.flickr.com/services/oembed",
}

// providerFor returns the oEmbed endpoint for a URL, or "" when the host
// matches no known provider. Subdomains match their parent domain.
func providerFor(providers map[string]string, rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	domain := strings.ToLower(parsed.Hostname())
	domain = strings.TrimPrefix(domain, "www.")

	for providerDomain, endpoint := range providers {
		if domain == providerDomain || strings.HasSuffix(domain, "."+providerDomain) {
			return endpoint
		}
	}
	return ""
}
