// Package spatial computes what every listener hears of every speaker from
// positions, audio groups, walls and attenuation, and hands the resulting
// private mixes to a MixSink.
package spatial

import (
	"math"

	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/domain"
)

// Transform is a position in audio space plus a heading in radians.
type Transform struct {
	X, Y, Z     float64
	Orientation float64
}

// Spatializer turns a speaker and a listener transform into the mix the
// listener hears. Implementations are stateless.
type Spatializer interface {
	Spatialize(speaker, listener Transform) domain.Mix
}

// attenuation treats an unset attenuator as no attenuation.
func attenuation(a float64) float64 {
	if a == 0 {
		return 1
	}
	return a
}

func distance(a, b Transform) float64 {
	dx, dy, dz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// pan returns the front/back and left/right components for sound reaching
// the listener from the speaker. Co-located players face each other.
func pan(speaker, listener Transform) (fb, lr float64) {
	if speaker.X == listener.X && speaker.Y == listener.Y {
		return 1, 0
	}
	angle := math.Atan2(speaker.Y-listener.Y, speaker.X-listener.X) - listener.Orientation
	return round2(math.Cos(angle)), round2(-math.Sin(angle))
}

// round2 rounds to two decimals and folds negative zero into zero so the
// wire never carries "-0".
func round2(v float64) float64 {
	return domain.Round(v, 2) + 0
}

// FalloffSpatializer plays MaxVolume up to FullVolumeRadius, nothing from
// ZeroVolumeRadius on, and decays by Falloff per hundredth of the distance in
// between.
type FalloffSpatializer struct {
	MaxVolume        float64 `json:"max_volume"`
	ZeroVolumeRadius float64 `json:"zero_volume_radius"`
	FullVolumeRadius float64 `json:"full_volume_radius"`
	Falloff          float64 `json:"falloff"`
	Attenuator       float64 `json:"attenuator"`
}

func NewFalloffSpatializer(c config.FalloffConfig) FalloffSpatializer {
	return FalloffSpatializer{
		MaxVolume:        c.MaxVolume,
		ZeroVolumeRadius: c.ZeroVolumeRadius,
		FullVolumeRadius: c.FullVolumeRadius,
		Falloff:          c.Falloff,
		Attenuator:       1,
	}
}

// Volume maps a distance to a volume in [0, MaxVolume].
func (s FalloffSpatializer) Volume(d float64) float64 {
	full, zero := s.FullVolumeRadius, s.ZeroVolumeRadius
	if zero < full {
		zero = full
	}
	if d <= full {
		return s.MaxVolume
	}
	if d >= zero {
		return 0
	}

	steps := int((d - full) / (zero - full) * 100)
	v := math.Pow(s.Falloff, float64(steps)) * s.MaxVolume
	return math.Max(0, math.Min(v, s.MaxVolume))
}

func (s FalloffSpatializer) Spatialize(speaker, listener Transform) domain.Mix {
	fb, lr := pan(speaker, listener)
	return domain.Mix{
		FrontBack: fb,
		LeftRight: lr,
		Volume:    s.Volume(distance(speaker, listener)) * attenuation(s.Attenuator),
	}
}

// ZeroVolumeSpatializer silences the speaker.
type ZeroVolumeSpatializer struct{}

func (ZeroVolumeSpatializer) Spatialize(Transform, Transform) domain.Mix { return domain.Silent }

// FullVolumeSpatializer plays the speaker straight ahead at full volume, or
// only within Radius when it is set.
type FullVolumeSpatializer struct {
	Radius     float64 `json:"radius"`
	Attenuator float64 `json:"attenuator"`
}

func (s FullVolumeSpatializer) Spatialize(speaker, listener Transform) domain.Mix {
	if s.Radius > 0 && distance(speaker, listener) > s.Radius {
		return domain.Silent
	}
	return domain.Mix{FrontBack: 1, Volume: attenuation(s.Attenuator)}
}

// AmbientSpatializer plays the speaker without direction to listeners inside
// a box on the x/y plane.
type AmbientSpatializer struct {
	MinX       float64 `json:"min_x"`
	MaxX       float64 `json:"max_x"`
	MinY       float64 `json:"min_y"`
	MaxY       float64 `json:"max_y"`
	Attenuator float64 `json:"attenuator"`
}

// NewAmbientSpatializer builds the box from two opposite corners.
func NewAmbientSpatializer(x1, y1, x2, y2 float64) AmbientSpatializer {
	return AmbientSpatializer{
		MinX:       math.Min(x1, x2),
		MaxX:       math.Max(x1, x2),
		MinY:       math.Min(y1, y2),
		MaxY:       math.Max(y1, y2),
		Attenuator: 1,
	}
}

func (s AmbientSpatializer) Spatialize(_, listener Transform) domain.Mix {
	if listener.X < s.MinX || listener.X > s.MaxX || listener.Y < s.MinY || listener.Y > s.MaxY {
		return domain.Silent
	}
	return domain.Mix{Volume: attenuation(s.Attenuator)}
}

// Defaults are the per-class spatializers used when neither the audio group
// nor the speaker supplies one.
type Defaults struct {
	Live       Spatializer
	Stationary Spatializer
	Outworlder Spatializer
}

func NewDefaults(c config.SpatialConfig) Defaults {
	return Defaults{
		Live:       NewFalloffSpatializer(c.Live),
		Stationary: NewFalloffSpatializer(c.Stationary),
		Outworlder: NewFalloffSpatializer(c.Outworlder),
	}
}

func (d Defaults) For(p *Player) Spatializer {
	switch {
	case p.Outworlder:
		return d.Outworlder
	case p.Live:
		return d.Live
	default:
		return d.Stationary
	}
}
