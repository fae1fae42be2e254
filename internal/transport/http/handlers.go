// Package http holds the admin API handlers. Every mutation ends with a
// commit so the resulting mixes reach the bridges before the reply.
package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/app/orch"
	"github.com/dkeye/voicebridge/internal/app/spatial"
	"github.com/dkeye/voicebridge/internal/domain"
)

type Handlers struct {
	Orch *orch.Orchestrator
}

func NewHandlers(o *orch.Orchestrator) *Handlers {
	return &Handlers{Orch: o}
}

// Register mounts the routes on g. Mutating routes run behind mutate.
func (h *Handlers) Register(g *gin.RouterGroup, mutate ...gin.HandlerFunc) {
	g.GET("/bridges", h.listBridges)
	g.GET("/calls", h.listCalls)
	g.GET("/relays", h.listRelays)
	g.GET("/players", h.listPlayers)
	g.GET("/players/:id", h.getPlayer)
	g.GET("/players/:id/range", h.playerRange)
	g.GET("/walls", h.listWalls)
	g.GET("/range", h.rangeCount)

	m := g.Group("", mutate...)
	m.POST("/bridges", h.connectBridge)
	m.POST("/calls", h.placeCall)
	m.DELETE("/calls/:id", h.endCall)
	m.POST("/calls/:id/mute", h.muteCall)
	m.PUT("/players/:id/position", h.setPosition)
	m.PUT("/players/:id/volume", h.setVolume)
	m.POST("/walls", h.addWall)
	m.DELETE("/walls/:id", h.removeWall)
	m.PUT("/spatial", h.setSpatial)
}

type ConnectRequest struct {
	Address string `json:"address" binding:"required"`
}

type PlaceCallRequest struct {
	CallID         string  `json:"call_id" binding:"required"`
	ConferenceID   string  `json:"conference_id" binding:"required"`
	PhoneNumber    string  `json:"phone_number"`
	Name           string  `json:"name"`
	InputTreatment string  `json:"input_treatment"`
	Bridge         string  `json:"bridge"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Z              float64 `json:"z"`
	Orientation    float64 `json:"orientation"`
	// Stationary places a non-live source such as a treatment.
	Stationary bool `json:"stationary"`
	Outworlder bool `json:"outworlder"`
}

type PlaceCallResponse struct {
	CallID string `json:"call_id"`
	Bridge string `json:"bridge"`
}

type MuteRequest struct {
	Muted bool `json:"muted"`
}

type PositionRequest struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Orientation float64 `json:"orientation"`
}

type VolumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

type WallRequest struct {
	X1             float64 `json:"x1"`
	Y1             float64 `json:"y1"`
	X2             float64 `json:"x2"`
	Y2             float64 `json:"y2"`
	Characteristic float64 `json:"characteristic"`
}

// SpatialRequest changes the bridge-wide spatial parameters. Nil fields are
// left alone.
type SpatialRequest struct {
	Enabled      *bool    `json:"enabled"`
	MinVolume    *float64 `json:"min_volume"`
	Falloff      *float64 `json:"falloff"`
	EchoDelay    *float64 `json:"echo_delay"`
	EchoVolume   *float64 `json:"echo_volume"`
	BehindVolume *float64 `json:"behind_volume"`
}

func (h *Handlers) listBridges(c *gin.Context) {
	links := h.Orch.Pool.Links()
	out := make([]bridge.Info, 0, len(links))
	for _, l := range links {
		out = append(out, l.Info())
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) connectBridge(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid address"})
		return
	}
	link, err := h.Orch.Pool.Connect(c.Request.Context(), req.Address)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, link.Info())
}

func (h *Handlers) listCalls(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Pool.Calls())
}

func (h *Handlers) placeCall(c *gin.Context) {
	var req PlaceCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cp := domain.CallParticipant{
		CallID:         req.CallID,
		ConferenceID:   req.ConferenceID,
		PhoneNumber:    req.PhoneNumber,
		Name:           req.Name,
		InputTreatment: req.InputTreatment,
	}
	player := spatial.Player{
		X:           req.X,
		Y:           req.Y,
		Z:           req.Z,
		Orientation: req.Orientation,
		Live:        !req.Stationary,
		Outworlder:  req.Outworlder,
	}
	link, err := h.Orch.PlaceCall(c.Request.Context(), cp, player, req.Bridge)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, PlaceCallResponse{CallID: cp.CallID, Bridge: link.String()})
}

func (h *Handlers) endCall(c *gin.Context) {
	if err := h.Orch.EndCall(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) muteCall(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Orch.MuteCall(c.Request.Context(), c.Param("id"), req.Muted); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listRelays(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Router.Relays())
}

func (h *Handlers) listPlayers(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Mixer.Players())
}

func (h *Handlers) getPlayer(c *gin.Context) {
	p, ok := h.Orch.Mixer.Player(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": spatial.ErrUnknownPlayer.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) playerRange(c *gin.Context) {
	peers, err := h.Orch.Mixer.PlayersInRange(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"player": c.Param("id"), "in_range": peers})
}

func (h *Handlers) setPosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mutate(c, h.Orch.Mixer.Move(c.Param("id"), req.X, req.Y, req.Z, req.Orientation))
}

func (h *Handlers) setVolume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil || *req.Volume < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume must be a non-negative number"})
		return
	}
	h.mutate(c, h.Orch.Mixer.SetMasterVolume(c.Param("id"), *req.Volume))
}

func (h *Handlers) listWalls(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Mixer.Walls())
}

func (h *Handlers) addWall(c *gin.Context) {
	var req WallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := h.Orch.Mixer.AddWall(spatial.Wall{
		X1: req.X1, Y1: req.Y1, X2: req.X2, Y2: req.Y2,
		Characteristic: req.Characteristic,
	})
	h.Orch.Commit(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) removeWall(c *gin.Context) {
	h.mutate(c, h.Orch.Mixer.RemoveWall(c.Param("id")))
}

func (h *Handlers) rangeCount(c *gin.Context) {
	var coords [3]float64
	for i, k := range []string{"x", "y", "z"} {
		v, err := strconv.ParseFloat(c.DefaultQuery(k, "0"), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + k})
			return
		}
		coords[i] = v
	}
	c.JSON(http.StatusOK, gin.H{"players": h.Orch.Mixer.NumberOfPlayersInRange(coords[0], coords[1], coords[2])})
}

func (h *Handlers) setSpatial(c *gin.Context) {
	var req SpatialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	pool := h.Orch.Pool
	var err error
	if req.Enabled != nil {
		err = pool.SetSpatialAudio(ctx, *req.Enabled)
	}
	for _, set := range []struct {
		v  *float64
		fn func(float64) error
	}{
		{req.MinVolume, func(v float64) error { return pool.SetSpatialMinVolume(ctx, v) }},
		{req.Falloff, func(v float64) error { return pool.SetSpatialFalloff(ctx, v) }},
		{req.EchoDelay, func(v float64) error { return pool.SetSpatialEchoDelay(ctx, v) }},
		{req.EchoVolume, func(v float64) error { return pool.SetSpatialEchoVolume(ctx, v) }},
		{req.BehindVolume, func(v float64) error { return pool.SetSpatialBehindVolume(ctx, v) }},
	} {
		if set.v != nil && err == nil {
			err = set.fn(*set.v)
		}
	}
	if err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) mutate(c *gin.Context, err error) {
	if err != nil {
		abort(c, err)
		return
	}
	h.Orch.Commit(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func abort(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadAddress),
		errors.Is(err, domain.ErrReservedCallID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownCall),
		errors.Is(err, spatial.ErrUnknownPlayer),
		errors.Is(err, spatial.ErrUnknownWall):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateCall),
		errors.Is(err, spatial.ErrDuplicatePlayer):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoBridges):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
