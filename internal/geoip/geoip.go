// Package geoip classifies client IPs against on-disk range databases and
// derives the allow/deny judgement used for click validity attribution.
package geoip

import (
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Reasons reported on a Classification.
const (
	ReasonOK             = "ok"
	ReasonPrivateIP      = "private_ip"
	ReasonDBNotReady     = "db_not_ready"
	ReasonSuspiciousISP  = "suspicious_isp"
	ReasonForeignCountry = "foreign_country"
	ReasonInvalidIP      = "invalid_ip"
)

// Classification is the result of looking up a single client IP.
type Classification struct {
	Version      int    `json:"version"`
	Country      string `json:"country"`
	ISP          string `json:"isp"`
	IsPrivate    bool   `json:"is_private"`
	IsDatacenter bool   `json:"is_datacenter"`
	IsAllowed    bool   `json:"is_allowed"`
	Reason       string `json:"reason"`
}

// rangeDB wraps one on-disk database: a MaxMind DB when the file parses as
// one, otherwise a JSON list of CIDR entries. The JSON form carries dev and
// test fixtures.
type rangeDB struct {
	reader   *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
	isp     string
}

func openRangeDB(path string) (*rangeDB, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &rangeDB{reader: db}, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		ISP     string `json:"isp"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	rdb := &rangeDB{}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			rdb.fallback = append(rdb.fallback, record{net: n, country: e.Country, isp: e.ISP})
		}
	}
	return rdb, nil
}

// lookup returns country and ISP for the IP. ISP data lives in ISP-flavoured
// MaxMind databases; ASN organization is the fallback for the free tier.
func (d *rangeDB) lookup(ip net.IP) (country, isp string, err error) {
	if d.reader != nil {
		rec, err := d.reader.Country(ip)
		if err != nil {
			return "", "", err
		}
		country = rec.Country.IsoCode
		if ispRec, err := d.reader.ISP(ip); err == nil && ispRec.ISP != "" {
			return country, ispRec.ISP, nil
		}
		if asnRec, err := d.reader.ASN(ip); err == nil {
			return country, asnRec.AutonomousSystemOrganization, nil
		}
		return country, "", nil
	}
	for _, r := range d.fallback {
		if r.net.Contains(ip) {
			return r.country, r.isp, nil
		}
	}
	return "", "", nil
}

func (d *rangeDB) close() error {
	if d != nil && d.reader != nil {
		return d.reader.Close()
	}
	return nil
}

// Classifier resolves IPs to country/ISP using two range databases (one per
// IP version) and caches results in a TTL-bounded LRU.
//
// The classifier fails open: when a database is missing or a lookup errors,
// traffic is allowed with reason db_not_ready so a bad data file never bricks
// the site.
type Classifier struct {
	v4 *rangeDB
	v6 *rangeDB

	allowCountries map[string]struct{}
	datacenterISPs []string

	cache  *expirable.LRU[string, Classification]
	logger *zap.Logger
}

// Options configures a Classifier.
type Options struct {
	PathV4         string
	PathV6         string
	AllowCountries []string
	DatacenterISPs []string
	CacheSize      int
	CacheTTL       time.Duration
}

// New opens the range databases and builds a Classifier. A missing database
// file is logged at warn and tolerated; lookups against it fail open.
func New(opts Options, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.L()
	}
	c := &Classifier{
		allowCountries: make(map[string]struct{}, len(opts.AllowCountries)),
		datacenterISPs: make([]string, 0, len(opts.DatacenterISPs)),
		logger:         logger,
	}
	for _, cc := range opts.AllowCountries {
		c.allowCountries[strings.ToUpper(strings.TrimSpace(cc))] = struct{}{}
	}
	for _, isp := range opts.DatacenterISPs {
		c.datacenterISPs = append(c.datacenterISPs, strings.ToLower(strings.TrimSpace(isp)))
	}

	if db, err := openRangeDB(opts.PathV4); err == nil {
		c.v4 = db
	} else {
		logger.Warn("ipv4 range database unavailable", zap.String("path", opts.PathV4), zap.Error(err))
	}
	if db, err := openRangeDB(opts.PathV6); err == nil {
		c.v6 = db
	} else {
		logger.Warn("ipv6 range database unavailable", zap.String("path", opts.PathV6), zap.Error(err))
	}

	size := opts.CacheSize
	if size <= 0 {
		size = 65536
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.cache = expirable.NewLRU[string, Classification](size, nil, ttl)

	return c
}

// Ready reports whether at least one range database is open.
func (c *Classifier) Ready() bool {
	return c != nil && (c.v4 != nil || c.v6 != nil)
}

// Classify resolves the given IP string. Results are cached per IP for the
// configured TTL.
func (c *Classifier) Classify(ipStr string) Classification {
	if cached, ok := c.cache.Get(ipStr); ok {
		return cached
	}
	res := c.classify(ipStr)
	c.cache.Add(ipStr, res)
	return res
}

func (c *Classifier) classify(ipStr string) Classification {
	ip := net.ParseIP(strings.TrimPrefix(ipStr, "::ffff:"))
	if ip == nil {
		// Unparseable peers are never counted as valid clicks but still
		// see the page.
		return Classification{IsAllowed: false, Reason: ReasonInvalidIP}
	}

	version := 6
	if ip.To4() != nil {
		version = 4
	}

	if isPrivate(ip) {
		return Classification{Version: version, IsPrivate: true, IsAllowed: true, Reason: ReasonPrivateIP}
	}

	db := c.v6
	if version == 4 {
		db = c.v4
	}
	if db == nil {
		return Classification{Version: version, IsAllowed: true, Reason: ReasonDBNotReady}
	}

	country, isp, err := db.lookup(ip)
	if err != nil {
		c.logger.Warn("ip lookup failed", zap.String("ip", ipStr), zap.Error(err))
		return Classification{Version: version, IsAllowed: true, Reason: ReasonDBNotReady}
	}

	res := Classification{Version: version, Country: country, ISP: isp}

	// The ISP check runs first so a datacenter IP in an unknown country
	// reports suspicious_isp, not foreign_country.
	if c.isDatacenter(isp) {
		res.IsDatacenter = true
		res.Reason = ReasonSuspiciousISP
		return res
	}
	if _, ok := c.allowCountries[strings.ToUpper(country)]; !ok {
		res.Reason = ReasonForeignCountry
		return res
	}

	res.IsAllowed = true
	res.Reason = ReasonOK
	return res
}

func (c *Classifier) isDatacenter(isp string) bool {
	lower := strings.ToLower(isp)
	if lower == "" {
		return false
	}
	for _, marker := range c.datacenterISPs {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isPrivate covers RFC1918, loopback, link-local and unique-local ranges.
func isPrivate(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Close releases the underlying database readers.
func (c *Classifier) Close() error {
	if c == nil {
		return nil
	}
	var first error
	if err := c.v4.close(); err != nil {
		first = err
	}
	if err := c.v6.close(); err != nil && first == nil {
		first = err
	}
	return first
}
