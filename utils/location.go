package utils

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
)

// UnknownLocation is reported when an IP cannot be placed.
const UnknownLocation = "unknown"

const locationTTL = 24 * time.Hour

// Locator estimates a human readable location for an IP.
type Locator interface {
	Locate(ctx context.Context, ip string) string
}

// GeoIPLocator resolves "city, region, country" from a MaxMind City database.
// Results are cached in memory and, when a redis client is set, in redis.
type GeoIPLocator struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	cache  *ristretto.Cache
	rdb    *redis.Client
}

// NewGeoIPLocator opens dbPath when set. An empty path gives a locator that
// always reports UnknownLocation.
func NewGeoIPLocator(dbPath string, rdb *redis.Client) (*GeoIPLocator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	l := &GeoIPLocator{cache: cache, rdb: rdb}
	if dbPath != "" {
		reader, err := geoip2.Open(dbPath)
		if err != nil {
			cache.Close()
			return nil, err
		}
		l.reader = reader
		Sugar.Infof("geoip database loaded from %s (build epoch %d)", dbPath, reader.Metadata().BuildEpoch)
	}
	return l, nil
}

// Locate returns the cached or looked-up location of ip.
func (l *GeoIPLocator) Locate(ctx context.Context, ip string) string {
	if ip == "" || IsPrivateIP(ip) {
		return UnknownLocation
	}
	if v, ok := l.cache.Get(ip); ok {
		return v.(string)
	}
	if v, ok := l.redisGet(ctx, ip); ok {
		l.cache.SetWithTTL(ip, v, 1, locationTTL)
		return v
	}

	loc := l.lookup(ip)
	l.cache.SetWithTTL(ip, loc, 1, locationTTL)
	l.redisSet(ctx, ip, loc)
	return loc
}

func (l *GeoIPLocator) lookup(ipStr string) string {
	l.mu.RLock()
	reader := l.reader
	l.mu.RUnlock()
	if reader == nil {
		return UnknownLocation
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return UnknownLocation
	}
	record, err := reader.City(ip)
	if err != nil {
		Sugar.Debugf("geoip lookup failed ip=%s err=%v", ipStr, err)
		return UnknownLocation
	}
	return FormatLocation(
		record.City.Names["en"],
		firstSubdivision(record),
		record.Country.Names["en"],
	)
}

func firstSubdivision(record *geoip2.City) string {
	if len(record.Subdivisions) == 0 {
		return ""
	}
	return record.Subdivisions[0].Names["en"]
}

// FormatLocation joins the known parts as "city, region, country". It returns
// UnknownLocation when the country is missing.
func FormatLocation(city, region, country string) string {
	if country == "" {
		return UnknownLocation
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{city, region, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func locationKey(ip string) string { return "geoip:" + ip }

func (l *GeoIPLocator) redisGet(ctx context.Context, ip string) (string, bool) {
	if l.rdb == nil {
		return "", false
	}
	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	val, err := l.rdb.Get(ctx2, locationKey(ip)).Result()
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func (l *GeoIPLocator) redisSet(ctx context.Context, ip, loc string) {
	if l.rdb == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_ = l.rdb.Set(ctx2, locationKey(ip), loc, locationTTL).Err()
}

// Close releases the database and cache.
func (l *GeoIPLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Close()
	if l.reader != nil {
		err := l.reader.Close()
		l.reader = nil
		return err
	}
	return nil
}

// IsPrivateIP returns true for RFC1918 and loopback ranges.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
