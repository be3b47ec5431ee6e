package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
)

const (
	defaultTimeout   = 3 * time.Second
	defaultCacheSize = 512
	defaultCacheTTL  = 24 * time.Hour
	maxResponseBytes = 64 << 10
	userAgent        = "visitor-tracking/1.0"

	ipAPIFields = "status,message,country,regionName,city,lat,lon,isp,org,as,query"
)

// Client resolves coarse geolocation through a chain of public providers.
// Results, including misses, are memoized per IP in a bounded expirable LRU.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	providers []provider
	cache     *expirable.LRU[string, domain.GeoInfo]
	metrics   *telemetry.TrackingMetrics
	logger    *zap.Logger
}

type provider struct {
	name   string
	url    func(ip string) string
	decode func(body []byte) (domain.GeoInfo, error)
}

// NewClient builds a Client from configuration. httpClient may be nil.
func NewClient(cfg config.GeoIPSettings, httpClient *http.Client, metrics *telemetry.TrackingMetrics, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ipAPI := strings.TrimRight(cfg.IPAPIURL, "/")
	ipapiCo := strings.TrimRight(cfg.IPAPICoURL, "/")
	fallback := strings.TrimRight(cfg.FallbackURL, "/")

	return &Client{
		http:    httpClient,
		timeout: timeout,
		providers: []provider{
			{
				name: "ip-api",
				url: func(ip string) string {
					return fmt.Sprintf("%s/%s?fields=%s", ipAPI, ip, ipAPIFields)
				},
				decode: decodeIPAPI(true),
			},
			{
				name: "ipapi.co",
				url: func(ip string) string {
					return fmt.Sprintf("%s/%s/json/", ipapiCo, ip)
				},
				decode: decodeIPAPICo,
			},
			{
				name: "ip-api-fallback",
				url: func(ip string) string {
					return fmt.Sprintf("%s/%s", fallback, ip)
				},
				decode: decodeIPAPI(false),
			},
		},
		cache:   expirable.NewLRU[string, domain.GeoInfo](size, nil, ttl),
		metrics: metrics,
		logger:  logger,
	}
}

// Lookup returns geolocation for ip. Non-routable and unparsable addresses resolve to
// an empty GeoInfo without any network call. Lookup never fails.
func (c *Client) Lookup(ctx context.Context, ip string) domain.GeoInfo {
	ip = strings.TrimSpace(ip)
	if !Routable(ip) {
		return domain.GeoInfo{}
	}

	if cached, ok := c.cache.Get(ip); ok {
		return cached
	}

	ctx, span := telemetry.Tracer().Start(ctx, "geoip.Lookup")
	defer span.End()

	for _, p := range c.providers {
		info, err := c.query(ctx, p, ip)
		if err != nil {
			c.metrics.GeoLookup(p.name, "failure")
			c.logger.Debug("geo provider lookup failed",
				zap.String("provider", p.name),
				zap.Error(err),
			)
			continue
		}

		c.metrics.GeoLookup(p.name, "success")
		span.SetAttributes(attribute.String("geoip.provider", p.name))
		c.cache.Add(ip, info)
		return info
	}

	span.SetStatus(codes.Error, "all geo providers failed")
	c.cache.Add(ip, domain.GeoInfo{})
	return domain.GeoInfo{}
}

func (c *Client) query(ctx context.Context, p provider, ip string) (domain.GeoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(ip), nil)
	if err != nil {
		return domain.GeoInfo{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.GeoInfo{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GeoInfo{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.GeoInfo{}, fmt.Errorf("read body: %w", err)
	}

	return p.decode(body)
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
}

func decodeIPAPI(withAS bool) func([]byte) (domain.GeoInfo, error) {
	return func(body []byte) (domain.GeoInfo, error) {
		var payload ipAPIResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return domain.GeoInfo{}, fmt.Errorf("decode ip-api response: %w", err)
		}
		if payload.Status != "success" {
			return domain.GeoInfo{}, fmt.Errorf("ip-api status %q: %s", payload.Status, payload.Message)
		}

		isp := []string{payload.ISP, payload.Org}
		if withAS {
			isp = append(isp, payload.AS)
		}

		return domain.GeoInfo{
			Country:   strings.TrimSpace(payload.Country),
			Region:    strings.TrimSpace(payload.RegionName),
			City:      strings.TrimSpace(payload.City),
			Latitude:  coordinate(payload.Lat),
			Longitude: coordinate(payload.Lon),
			ISP:       firstNonEmpty(isp...),
		}, nil
	}
}

type ipapiCoResponse struct {
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	CountryName string  `json:"country_name"`
	Country     string  `json:"country"`
	Region      string  `json:"region"`
	RegionCode  string  `json:"region_code"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Org         string  `json:"org"`
	ASN         string  `json:"asn"`
}

func decodeIPAPICo(body []byte) (domain.GeoInfo, error) {
	var payload ipapiCoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.GeoInfo{}, fmt.Errorf("decode ipapi.co response: %w", err)
	}
	if payload.Error {
		return domain.GeoInfo{}, fmt.Errorf("ipapi.co error: %s", payload.Reason)
	}

	return domain.GeoInfo{
		Country:   firstNonEmpty(payload.CountryName, payload.Country),
		Region:    firstNonEmpty(payload.Region, payload.RegionCode),
		City:      strings.TrimSpace(payload.City),
		Latitude:  coordinate(payload.Latitude),
		Longitude: coordinate(payload.Longitude),
		ISP:       firstNonEmpty(payload.Org, payload.ASN),
	}, nil
}

// providers report 0 for unknown coordinates
func coordinate(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Routable reports whether ip is a public address worth geolocating.
func Routable(ip string) bool {
	if ip == "" || strings.EqualFold(ip, "localhost") {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	switch {
	case addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsUnspecified(),
		addr.IsMulticast():
		return false
	}
	return true
}

// Nop is a locator used when geolocation is disabled.
type Nop struct{}

// Lookup always returns an empty GeoInfo.
func (Nop) Lookup(context.Context, string) domain.GeoInfo {
	return domain.GeoInfo{}
}

var (
	_ port.GeoLocator = (*Client)(nil)
	_ port.GeoLocator = Nop{}
)
