package client

import (
	"context"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// VehicleClient talks to the vehicle service.
type VehicleClient struct {
	base  string
	hc    *http.Client
	gate  *gate.Gate
	cache *ttlcache.Cache[string, model.Vehicle]
}

// NewVehicleClient builds a client.  Records are reused for ttl; a ttl of
// zero disables caching.
func NewVehicleClient(base string, hc *http.Client, g *gate.Gate, ttl time.Duration) *VehicleClient {
	c := &VehicleClient{base: base, hc: hc, gate: g}
	if ttl > 0 {
		c.cache = ttlcache.New[string, model.Vehicle](
			ttlcache.WithTTL[string, model.Vehicle](ttl),
			ttlcache.WithCapacity[string, model.Vehicle](10000),
		)
		go c.cache.Start() // evicts expired records
	}
	return c
}

// Stop ends the cache's eviction loop.
func (c *VehicleClient) Stop() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

type registerVehicleRequest struct {
	LicensePlate string `json:"license_plate"`
	Accessible   bool   `json:"accessible"`
	Type         string `json:"type"`
}

// RegisterOrFetch returns the vehicle record for plate, creating it when
// the vehicle service does not know it yet.
func (c *VehicleClient) RegisterOrFetch(ctx context.Context, plate string, accessible bool) (model.Vehicle, error) {
	key := cacheKey(plate, accessible)
	if c.cache != nil {
		if item := c.cache.Get(key); item != nil {
			return item.Value(), nil
		}
	}
	v, err := gate.Call(ctx, c.gate, func(ctx context.Context) (model.Vehicle, error) {
		var out model.Vehicle
		err := doJSON(ctx, c.hc, http.MethodPost, joinURL(c.base, "/v1/vehicles"), nil,
			registerVehicleRequest{LicensePlate: plate, Accessible: accessible, Type: "CAR"}, &out)
		return out, classify(err)
	})
	if err != nil {
		return model.Vehicle{}, err
	}
	if c.cache != nil {
		c.cache.Set(key, v, ttlcache.DefaultTTL)
	}
	return v, nil
}

func cacheKey(plate string, accessible bool) string {
	if accessible {
		return plate + "|a"
	}
	return plate
}
