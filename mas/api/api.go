// Metadata API
// Copyright (c) 2017, NCI, Australian National University.

package main

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/gomemcache/memcache"
	"github.com/nci/nightlights/mas"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
)

var (
	dbDriver = flag.String("driver", mas.DriverPostgres, "catalogue driver: sqlite or postgres")
	dbDSN    = flag.String("dsn", "user=api host=/var/run/postgresql dbname=mas sslmode=disable", "catalogue data source name")
	dbPool   = flag.Int("pool", 8, "database pool size")
	dbLimit  = flag.Int("limit", 64, "database concurrent requests")
	httpPort = flag.Int("port", 8080, "http port")
	mcURI    = flag.String("memcache", "", "memcache uri host:port")
	mcTTL    = flag.Int("cache_ttl", 300, "memcache response expiry in seconds")
	migrate  = flag.Bool("migrate", false, "apply catalogue migrations before serving")
)

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	http.Error(response, fmt.Sprintf(`{ "error": %q }`, err.Error()), status)
}

// responseCache is the subset of the memcache client the server uses.
type responseCache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

type server struct {
	cat    *mas.Catalogue
	mc     responseCache
	ttl    int32
	logger *zap.Logger
}

type latestResponse struct {
	Found bool         `json:"found"`
	Asset *store.Asset `json:"asset,omitempty"`
}

// parseUntil accepts a calendar date or an ISO timestamp; empty means now.
func parseUntil(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{"2006-01-02", raster.ISOFormat, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid until %q", value)
}

// responseKey ties a cached response to the collection version it was
// computed from, so a write to the collection retires it.
func responseKey(uri string, version int64) string {
	buff := md5.Sum([]byte(fmt.Sprintf("%s#%d", uri, version)))
	return hex.EncodeToString(buff[:])
}

// cacheable reports whether the response depends on the request alone.
// ?latest without until follows the wall clock.
func cacheable(query url.Values) bool {
	return !query.Has("latest") || query.Get("until") != ""
}

func (s *server) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "application/json")

	collection := strings.Trim(request.URL.Path, "/")
	if collection == "" {
		httpJSONError(response, errors.New("collection path required, e.g. /harmonized?assets"), 400)
		return
	}

	query := request.URL.Query()
	ctx := request.Context()

	var hash string

	if s.mc != nil && cacheable(query) {
		version, verr := s.cat.Version(ctx, collection)
		if verr != nil {
			s.logger.Warn("collection version unavailable; bypassing cache", zap.String("collection", collection), zap.Error(verr))
		} else {
			hash = responseKey(request.URL.RequestURI(), version)
			if cached, ok := s.mc.Get(hash); ok == nil {
				response.Write(cached.Value)
				return
			}
		}
	}

	var payload []byte
	var err error

	switch {
	case query.Has("assets"):
		assets, qerr := s.cat.Assets(ctx, collection)
		if qerr != nil {
			s.logger.Error("assets query failed", zap.String("collection", collection), zap.Error(qerr))
			httpJSONError(response, qerr, 500)
			return
		}
		if assets == nil {
			assets = []store.Asset{}
		}
		payload, err = json.Marshal(assets)

	case query.Has("latest"):
		until, perr := parseUntil(request.FormValue("until"))
		if perr != nil {
			httpJSONError(response, perr, 400)
			return
		}
		a, found, qerr := s.cat.Latest(ctx, collection, until)
		if qerr != nil {
			s.logger.Error("latest query failed", zap.String("collection", collection), zap.Error(qerr))
			httpJSONError(response, qerr, 500)
			return
		}
		resp := latestResponse{Found: found}
		if found {
			resp.Asset = &a
		}
		payload, err = json.Marshal(resp)

	default:
		httpJSONError(response, errors.New("unknown operation; currently supported: ?assets, ?latest"), 400)
		return
	}

	if err != nil {
		httpJSONError(response, err, 500)
		return
	}

	response.Write(payload)

	if hash != "" {
		// don't care about errors; memcache may not necessarily retain this anyway
		s.mc.Set(&memcache.Item{Key: hash, Value: payload, Expiration: s.ttl})
	}
}

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting metadata api",
		zap.String("driver", *dbDriver), zap.Int("pool", *dbPool), zap.Int("port", *httpPort))

	cat, err := mas.Open(*dbDriver, *dbDSN, mas.WithPool(*dbPool, *dbLimit), mas.WithLogger(logger))
	if err != nil {
		logger.Fatal("open catalogue", zap.Error(err))
	}
	defer cat.Close()

	if *migrate {
		if err := cat.Migrate(); err != nil {
			logger.Fatal("migrate catalogue", zap.Error(err))
		}
	}

	s := &server{cat: cat, ttl: int32(*mcTTL), logger: logger}
	if *mcURI != "" {
		// lazy connection; errors returned in .Get
		s.mc = memcache.New(*mcURI)
	}

	listener, err := reuseport.Listen("tcp", fmt.Sprintf(":%d", *httpPort))
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/", s)
	logger.Fatal("serve", zap.Error(http.Serve(listener, mux)))
}
