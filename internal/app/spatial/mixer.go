package spatial

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

var (
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrDuplicatePlayer = errors.New("player already exists")
	ErrUnknownGroup    = errors.New("unknown audio group")
	ErrDuplicateGroup  = errors.New("audio group already exists")
	ErrUnknownWall     = errors.New("unknown wall")
)

// MixSink receives the private mix listener should use for speaker. Calls
// are made with the mixer locked and must not call back into it.
type MixSink interface {
	SetMix(speakerCallID, listenerCallID string, mix domain.Mix)
}

// Mixer owns players, audio groups and walls, and recomputes the affected
// private mixes after every change.
type Mixer struct {
	sink     MixSink
	events   *core.Events
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	scale    float64
	defaults Defaults

	mu      sync.Mutex
	players map[string]*player
	groups  map[string]*audioGroup
	walls   []Wall
	pending []core.RangeEvent
}

func New(cfg config.SpatialConfig, sink MixSink, events *core.Events, m *metrics.Metrics) *Mixer {
	scale := cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	return &Mixer{
		sink:     sink,
		events:   events,
		metrics:  m,
		logger:   log.With().Str("module", "app.spatial").Logger(),
		scale:    scale,
		defaults: NewDefaults(cfg),
		players:  make(map[string]*player),
		groups:   make(map[string]*audioGroup),
	}
}

// update runs fn locked and publishes the range events it produced once the
// lock is released, so subscribers may call back into the mixer.
func (m *Mixer) update(fn func() error) error {
	m.mu.Lock()
	err := fn()
	events := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, ev := range events {
		m.events.Range.Publish(ev)
	}
	return err
}

func (m *Mixer) withPlayer(id string, fn func(*player) error) error {
	return m.update(func() error {
		p, ok := m.players[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
		}
		return fn(p)
	})
}

func (m *Mixer) withGroup(groupID, playerID string, fn func(*audioGroup, *player) error) error {
	return m.withPlayer(playerID, func(p *player) error {
		g, ok := m.groups[groupID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		}
		return fn(g, p)
	})
}

func (m *Mixer) toAudio(v float64) float64 {
	return domain.Round(v/m.scale, 2)
}

// AddPlayer registers p. Coordinates are in world units and scaled like
// SetPosition.
func (m *Mixer) AddPlayer(p Player) error {
	return m.update(func() error {
		if _, ok := m.players[p.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePlayer, p.ID)
		}
		p.X, p.Y, p.Z = m.toAudio(p.X), m.toAudio(p.Y), m.toAudio(p.Z)
		pl := newPlayer(p)
		m.players[p.ID] = pl
		m.logger.Debug().Str("player", p.ID).Str("call", p.CallID).Msg("player added")
		m.recomputeBoth(pl)
		return nil
	})
}

// RemovePlayer silences every mix involving the player and forgets it.
func (m *Mixer) RemovePlayer(id string) error {
	return m.withPlayer(id, func(p *player) error {
		for _, q := range m.others(p) {
			if _, ok := q.inRange[p.ID]; ok {
				m.leaveRange(q, p)
				m.sink.SetMix(p.CallID, q.CallID, domain.Silent)
			}
			delete(q.private, p.ID)
			delete(q.sent, p.ID)
			if _, ok := p.inRange[q.ID]; ok {
				m.leaveRange(p, q)
				m.sink.SetMix(q.CallID, p.CallID, domain.Silent)
			}
		}
		for _, g := range p.groups {
			delete(g.members, p.ID)
		}
		delete(m.players, id)
		m.logger.Debug().Str("player", id).Msg("player removed")
		return nil
	})
}

func (m *Mixer) SetPosition(id string, x, y, z float64) error {
	return m.withPlayer(id, func(p *player) error {
		p.X, p.Y, p.Z = m.toAudio(x), m.toAudio(y), m.toAudio(z)
		m.recomputeBoth(p)
		return nil
	})
}

// SetOrientation sets the heading in radians.
func (m *Mixer) SetOrientation(id string, radians float64) error {
	return m.withPlayer(id, func(p *player) error {
		p.Orientation = domain.Round(radians, 2)
		m.recomputeBoth(p)
		return nil
	})
}

// Move sets position and heading with a single recompute.
func (m *Mixer) Move(id string, x, y, z, radians float64) error {
	return m.withPlayer(id, func(p *player) error {
		p.X, p.Y, p.Z = m.toAudio(x), m.toAudio(y), m.toAudio(z)
		p.Orientation = domain.Round(radians, 2)
		m.recomputeBoth(p)
		return nil
	})
}

// SetMasterVolume scales everything the player hears.
func (m *Mixer) SetMasterVolume(id string, v float64) error {
	return m.withPlayer(id, func(p *player) error {
		p.MasterVolume = v
		m.recomputeAsListener(p)
		return nil
	})
}

// SetPublicSpatializer overrides how everyone hears the player; nil restores
// the group or class default.
func (m *Mixer) SetPublicSpatializer(id string, s Spatializer) error {
	return m.withPlayer(id, func(p *player) error {
		p.PublicSpatializer = s
		m.recomputeAsSpeaker(p)
		return nil
	})
}

// SetPrivateSpatializer overrides how listener hears speaker.
func (m *Mixer) SetPrivateSpatializer(listenerID, speakerID string, s Spatializer) error {
	return m.withPlayer(listenerID, func(l *player) error {
		sp, ok := m.players[speakerID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, speakerID)
		}
		if s == nil {
			delete(l.private, speakerID)
		} else {
			l.private[speakerID] = s
		}
		m.recomputePair(l, sp)
		return nil
	})
}

func (m *Mixer) RemovePrivateSpatializer(listenerID, speakerID string) error {
	return m.SetPrivateSpatializer(listenerID, speakerID, nil)
}

func (m *Mixer) SetMuted(id string, muted bool) error {
	return m.withPlayer(id, func(p *player) error {
		p.Muted = muted
		m.recomputeAsSpeaker(p)
		return nil
	})
}

func (m *Mixer) SetLive(id string, live bool) error {
	return m.withPlayer(id, func(p *player) error {
		p.Live = live
		m.recomputeBoth(p)
		return nil
	})
}

func (m *Mixer) SetRecording(id string, recording bool) error {
	return m.withPlayer(id, func(p *player) error {
		p.Recording = recording
		m.recomputeBoth(p)
		return nil
	})
}

// CreateGroup adds an audio group. A nil spatializer uses the speaker's class
// default.
func (m *Mixer) CreateGroup(id string, s Spatializer) error {
	return m.update(func() error {
		if _, ok := m.groups[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateGroup, id)
		}
		m.groups[id] = &audioGroup{id: id, spatializer: s, members: make(map[string]MemberInfo)}
		return nil
	})
}

// EnsureGroup creates the group unless it exists.
func (m *Mixer) EnsureGroup(id string, s Spatializer) {
	_ = m.update(func() error {
		if _, ok := m.groups[id]; !ok {
			m.groups[id] = &audioGroup{id: id, spatializer: s, members: make(map[string]MemberInfo)}
		}
		return nil
	})
}

func (m *Mixer) RemoveGroup(id string) error {
	return m.update(func() error {
		g, ok := m.groups[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
		}
		delete(m.groups, id)
		for _, pid := range slices.Sorted(maps.Keys(g.members)) {
			if p, ok := m.players[pid]; ok {
				delete(p.groups, id)
				m.recomputeBoth(p)
			}
		}
		return nil
	})
}

func (m *Mixer) AddToGroup(groupID, playerID string, info MemberInfo) error {
	return m.withGroup(groupID, playerID, func(g *audioGroup, p *player) error {
		g.members[p.ID] = info
		p.groups[g.id] = g
		m.recomputeBoth(p)
		return nil
	})
}

func (m *Mixer) RemoveFromGroup(groupID, playerID string) error {
	return m.withGroup(groupID, playerID, func(g *audioGroup, p *player) error {
		delete(g.members, p.ID)
		delete(p.groups, g.id)
		m.recomputeBoth(p)
		return nil
	})
}

func (m *Mixer) member(g *audioGroup, p *player, fn func(*MemberInfo)) error {
	info, ok := g.members[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrUnknownPlayer, p.ID, g.id)
	}
	fn(&info)
	g.members[p.ID] = info
	return nil
}

func (m *Mixer) SetSpeaking(groupID, playerID string, speaking bool) error {
	return m.withGroup(groupID, playerID, func(g *audioGroup, p *player) error {
		if err := m.member(g, p, func(i *MemberInfo) { i.Speaking = speaking }); err != nil {
			return err
		}
		m.recomputeAsSpeaker(p)
		return nil
	})
}

// SetListenAttenuation scales what the player hears through the group.
func (m *Mixer) SetListenAttenuation(groupID, playerID string, v float64) error {
	return m.withGroup(groupID, playerID, func(g *audioGroup, p *player) error {
		if err := m.member(g, p, func(i *MemberInfo) { i.ListenAttenuation = v }); err != nil {
			return err
		}
		m.recomputeAsListener(p)
		return nil
	})
}

// SetSpeakingAttenuation scales how the player is heard through the group.
func (m *Mixer) SetSpeakingAttenuation(groupID, playerID string, v float64) error {
	return m.withGroup(groupID, playerID, func(g *audioGroup, p *player) error {
		if err := m.member(g, p, func(i *MemberInfo) { i.SpeakingAttenuation = v }); err != nil {
			return err
		}
		m.recomputeAsSpeaker(p)
		return nil
	})
}

// AddWall appends w, assigning an id when it has none, and returns the id.
func (m *Mixer) AddWall(w Wall) string {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_ = m.update(func() error {
		m.walls = append(m.walls, w)
		m.recomputeAll()
		return nil
	})
	return w.ID
}

func (m *Mixer) RemoveWall(id string) error {
	return m.update(func() error {
		i := slices.IndexFunc(m.walls, func(w Wall) bool { return w.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownWall, id)
		}
		m.walls = slices.Delete(m.walls, i, i+1)
		m.recomputeAll()
		return nil
	})
}

func (m *Mixer) Walls() []Wall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.walls)
}

// CallEstablished resends everything involving the player on callID, whose
// bridge has no mixes for a freshly established or migrated call. Range
// membership is unchanged, so no range events fire.
func (m *Mixer) CallEstablished(callID string) {
	_ = m.update(func() error {
		p := m.byCall(callID)
		if p == nil {
			return nil
		}
		clear(p.sent)
		for _, q := range m.others(p) {
			delete(q.sent, p.ID)
		}
		m.recomputeBoth(p)
		return nil
	})
}

func (m *Mixer) byCall(callID string) *player {
	for _, p := range m.players {
		if p.CallID == callID {
			return p
		}
	}
	return nil
}

// PlayerByCall returns the id of the player on callID.
func (m *Mixer) PlayerByCall(callID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.byCall(callID); p != nil {
		return p.ID, true
	}
	return "", false
}

func (m *Mixer) Player(id string) (PlayerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return PlayerInfo{}, false
	}
	return p.info(), true
}

func (m *Mixer) Players() []PlayerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayerInfo, 0, len(m.players))
	for _, id := range slices.Sorted(maps.Keys(m.players)) {
		out = append(out, m.players[id].info())
	}
	return out
}

// PlayersInRange lists the speakers the player currently hears.
func (m *Mixer) PlayersInRange(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	return slices.Sorted(maps.Keys(p.inRange)), nil
}

// NumberOfPlayersInRange counts live players a listener at the given world
// position would hear with the live default spatializer.
func (m *Mixer) NumberOfPlayersInRange(x, y, z float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := Transform{X: m.toAudio(x), Y: m.toAudio(y), Z: m.toAudio(z)}
	n := 0
	for _, p := range m.players {
		if p.Live && m.defaults.Live.Spatialize(p.transform(), at).Volume > 0 {
			n++
		}
	}
	return n
}
