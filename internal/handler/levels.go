package handler // handler package contains the level and spot administration handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/middleware"
	"github.com/iliyamo/parking-orchestrator/internal/model"
	"github.com/iliyamo/parking-orchestrator/internal/repository"
)

// LevelStore persists levels.  *repository.LevelRepo and
// *repository.MemoryLevelRepo implement it.
type LevelStore interface {
	Create(ctx context.Context, lv *model.Level) error
	GetByID(ctx context.Context, id uint64) (*model.Level, error)
	List(ctx context.Context) ([]model.Level, error)
}

// SpotLister lists free spots without locking them.
type SpotLister interface {
	ListAvailable(ctx context.Context, levelID uint64, accessible *bool) ([]model.Spot, error)
}

// SpotReleaser frees an occupied spot.  *ledger.Ledger implements it.
type SpotReleaser interface {
	ReleaseSpot(ctx context.Context, spotID uint64) error
}

// LevelHandler bundles the catalogue, the ledger and the gate registry for
// the level browsing and operator endpoints.
type LevelHandler struct {
	Levels     LevelStore
	Spots      SpotLister
	Ledger     SpotReleaser
	Gates      *gate.Registry
	Invalidate func(ctx context.Context) error // drops cached catalogue pages; may be nil
	log        *zap.Logger
}

// NewLevelHandler constructs a LevelHandler and panics if any dependency is nil.
func NewLevelHandler(levels LevelStore, spots SpotLister, l SpotReleaser, gates *gate.Registry, log *zap.Logger) *LevelHandler {
	if levels == nil || spots == nil || l == nil || gates == nil {
		panic("nil dependency passed to NewLevelHandler")
	}
	return &LevelHandler{Levels: levels, Spots: spots, Ledger: l, Gates: gates, log: log.Named("levels")}
}

type createLevelRequest struct {
	LevelNumber *int `json:"level_number"`
	Spots       []struct {
		SpotType   string `json:"spot_type"`
		Accessible bool   `json:"accessible"`
	} `json:"spots"`
}

// CreateLevel handles POST /v1/levels and creates a level along with its spots.
func (h *LevelHandler) CreateLevel(c echo.Context) error {
	var body createLevelRequest
	if err := c.Bind(&body); err != nil { // bind the incoming JSON
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if body.LevelNumber == nil {
		return c.JSON(http.StatusBadRequest, errorBody("level_number is required"))
	}
	lv := &model.Level{LevelNumber: *body.LevelNumber, Spots: make([]model.Spot, 0, len(body.Spots))}
	for _, s := range body.Spots {
		if !model.ValidSpotType(s.SpotType) { // reject unknown categories before touching the database
			return c.JSON(http.StatusBadRequest, errorBody("spot_type must be SMALL, MEDIUM or LARGE"))
		}
		lv.Spots = append(lv.Spots, model.Spot{SpotType: s.SpotType, Accessible: s.Accessible})
	}

	ctx := c.Request().Context()
	if err := h.Levels.Create(ctx, lv); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, errorBody("level number already exists"))
		}
		h.log.Error("create level failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not create level"))
	}
	if h.Invalidate != nil {
		if err := h.Invalidate(ctx); err != nil { // stale catalogue pages expire on their own
			h.log.Warn("cache invalidation failed", zap.Error(err))
		}
	}
	h.log.Info("level created",
		zap.Uint64("level_id", lv.ID),
		zap.Int("spots", len(lv.Spots)),
		zap.String("operator", middleware.OperatorID(c)))
	return c.JSON(http.StatusCreated, lv)
}

// ListLevels handles GET /v1/levels.
func (h *LevelHandler) ListLevels(c echo.Context) error {
	levels, err := h.Levels.List(c.Request().Context())
	if err != nil {
		h.log.Error("list levels failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("db error"))
	}
	return c.JSON(http.StatusOK, levels)
}

// AvailableSpots handles GET /v1/levels/:id/spots?accessible=true|false.
// Without the query parameter both kinds are listed.
func (h *LevelHandler) AvailableSpots(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("invalid id"))
	}
	var accessible *bool
	if raw := c.QueryParam("accessible"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("accessible must be true or false"))
		}
		accessible = &v
	}

	ctx := c.Request().Context()
	if _, err := h.Levels.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrLevelNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("level not found"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("db error"))
	}
	spots, err := h.Spots.ListAvailable(ctx, id, accessible)
	if err != nil {
		h.log.Error("list spots failed", zap.Uint64("level_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("db error"))
	}
	if spots == nil {
		spots = []model.Spot{}
	}
	return c.JSON(http.StatusOK, spots)
}

// ReleaseSpot handles POST /v1/spots/:id/release.  Operators use it to
// settle reconciliation cases; it goes through the ledger like any release.
func (h *LevelHandler) ReleaseSpot(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("invalid id"))
	}
	err := h.Ledger.ReleaseSpot(c.Request().Context(), id)
	switch {
	case errors.Is(err, ledger.ErrSpotNotFound):
		return c.JSON(http.StatusNotFound, errorBody("spot not found"))
	case errors.Is(err, ledger.ErrAlreadyFree):
		return c.JSON(http.StatusConflict, errorBody("spot is already free"))
	case err != nil:
		h.log.Error("manual release failed", zap.Uint64("spot_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not release spot"))
	}
	h.log.Warn("spot released by operator", zap.Uint64("spot_id", id), zap.String("operator", middleware.OperatorID(c)))
	return c.JSON(http.StatusOK, map[string]any{"spot_id": id, "released": true})
}

// Dependencies handles GET /v1/dependencies: breaker state per dependency.
func (h *LevelHandler) Dependencies(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Gates.Snapshots())
}
