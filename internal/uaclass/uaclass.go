// Package uaclass classifies User-Agent strings into device type and bot
// category. Social-preview crawlers are a distinct category: they must see
// the full meta-injected landing page, while other bots get the decoy.
package uaclass

import (
	"regexp"

	"github.com/avct/uasurfer"
)

// Device types reported by Classify.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// Result describes a classified User-Agent.
type Result struct {
	IsBot bool `json:"is_bot"`
	// IsCrawler marks social-preview and search crawlers, which receive the
	// real landing page so shared links unfurl correctly.
	IsCrawler bool   `json:"is_crawler"`
	BotKind   string `json:"bot_kind,omitempty"`
	Device    string `json:"device"`
}

type pattern struct {
	kind    string
	crawler bool
	re      *regexp.Regexp
}

// Ordered: the first match names the bot kind. Preview crawlers come first so
// e.g. "facebookexternalhit" is never swallowed by the generic bot pattern.
var botPatterns = []pattern{
	{"facebook", true, regexp.MustCompile(`(?i)facebookexternalhit|facebookcatalog`)},
	// Telegram's UA reads "TelegramBot (like TwitterBot)"; it must match
	// before the twitter pattern.
	{"telegram", true, regexp.MustCompile(`(?i)telegrambot`)},
	{"twitter", true, regexp.MustCompile(`(?i)twitterbot`)},
	{"linkedin", true, regexp.MustCompile(`(?i)linkedinbot`)},
	{"whatsapp", true, regexp.MustCompile(`(?i)whatsapp`)},
	{"zalo", true, regexp.MustCompile(`(?i)zalo`)},
	{"slack", true, regexp.MustCompile(`(?i)slackbot|slack-imgproxy`)},
	{"discord", true, regexp.MustCompile(`(?i)discordbot`)},
	{"skype", true, regexp.MustCompile(`(?i)skypeuripreview`)},
	{"pinterest", true, regexp.MustCompile(`(?i)pinterestbot`)},
	{"google", true, regexp.MustCompile(`(?i)googlebot|adsbot-google|mediapartners-google`)},
	{"bing", true, regexp.MustCompile(`(?i)bingbot|bingpreview`)},
	{"generic", false, regexp.MustCompile(`(?i)bot|crawl|spider|scrape|slurp|archiver`)},
	{"http-client", false, regexp.MustCompile(`(?i)curl|wget|python-requests|python-urllib|go-http-client|okhttp|libwww|httpclient|axios`)},
	{"headless", false, regexp.MustCompile(`(?i)headless|phantomjs|selenium|puppeteer|playwright`)},
}

var mobileRe = regexp.MustCompile(`(?i)mobile|android|iphone|ipad|ipod`)

// Classify inspects a raw User-Agent string.
func Classify(ua string) Result {
	if ua == "" {
		return Result{Device: DeviceUnknown}
	}

	res := Result{Device: deviceType(ua)}

	for _, p := range botPatterns {
		if p.re.MatchString(ua) {
			res.IsBot = true
			res.IsCrawler = p.crawler
			res.BotKind = p.kind
			return res
		}
	}

	// uasurfer catches UAs the pattern table misses.
	if uasurfer.Parse(ua).IsBot() {
		res.IsBot = true
		res.BotKind = "generic"
	}
	return res
}

// deviceType maps the parsed device class onto the two buckets banner
// targeting understands. Tablets count as mobile, matching the markers the
// client embed uses.
func deviceType(ua string) string {
	u := uasurfer.Parse(ua)
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		return DeviceDesktop
	case uasurfer.DevicePhone, uasurfer.DeviceTablet:
		return DeviceMobile
	}
	if mobileRe.MatchString(ua) {
		return DeviceMobile
	}
	return DeviceDesktop
}
