package spatial

import (
	"maps"
	"slices"

	"github.com/dkeye/voicebridge/internal/domain"
)

// Player is the spatial identity of one call.
type Player struct {
	ID          string  `json:"id"`
	CallID      string  `json:"call_id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Orientation float64 `json:"orientation"`

	MasterVolume float64 `json:"master_volume"`
	// AmbientVolume scales what this player hears from, or contributes as,
	// a non-live source.
	AmbientVolume float64 `json:"ambient_volume"`

	Live       bool `json:"live"`
	Recording  bool `json:"recording"`
	Outworlder bool `json:"outworlder"`
	Muted      bool `json:"muted"`

	PublicSpatializer Spatializer `json:"-"`
}

func (p *Player) transform() Transform {
	return Transform{X: p.X, Y: p.Y, Z: p.Z, Orientation: p.Orientation}
}

// listens reports whether anything is mixed for this player at all.
func (p *Player) listens() bool {
	return p.Live || p.Recording
}

// MemberInfo is a player's standing in one audio group.
type MemberInfo struct {
	Speaking            bool    `json:"speaking"`
	ListenAttenuation   float64 `json:"listen_attenuation"`
	SpeakingAttenuation float64 `json:"speaking_attenuation"`
}

// DefaultMemberInfo is a speaking member without attenuation.
func DefaultMemberInfo() MemberInfo {
	return MemberInfo{Speaking: true, ListenAttenuation: 1, SpeakingAttenuation: 1}
}

type audioGroup struct {
	id          string
	spatializer Spatializer
	members     map[string]MemberInfo
}

type player struct {
	Player
	private map[string]Spatializer
	inRange map[string]struct{}
	sent    map[string]domain.Mix
	groups  map[string]*audioGroup
}

func newPlayer(p Player) *player {
	if p.MasterVolume == 0 {
		p.MasterVolume = 1
	}
	if p.AmbientVolume == 0 {
		p.AmbientVolume = 1
	}
	return &player{
		Player:  p,
		private: make(map[string]Spatializer),
		inRange: make(map[string]struct{}),
		sent:    make(map[string]domain.Mix),
		groups:  make(map[string]*audioGroup),
	}
}

// PlayerInfo is a read-only view of a player for APIs.
type PlayerInfo struct {
	Player
	InRange []string `json:"in_range"`
	Groups  []string `json:"groups"`
}

func (p *player) info() PlayerInfo {
	return PlayerInfo{
		Player:  p.Player,
		InRange: slices.Sorted(maps.Keys(p.inRange)),
		Groups:  slices.Sorted(maps.Keys(p.groups)),
	}
}
