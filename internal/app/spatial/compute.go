package spatial

import (
	"maps"
	"slices"

	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
)

// others returns every player but p in id order.
func (m *Mixer) others(p *player) []*player {
	out := make([]*player, 0, len(m.players))
	for _, id := range slices.Sorted(maps.Keys(m.players)) {
		if id != p.ID {
			out = append(out, m.players[id])
		}
	}
	return out
}

func (m *Mixer) recomputeBoth(p *player) {
	for _, q := range m.others(p) {
		m.recomputePair(p, q)
		m.recomputePair(q, p)
	}
}

func (m *Mixer) recomputeAsListener(p *player) {
	for _, q := range m.others(p) {
		m.recomputePair(p, q)
	}
}

func (m *Mixer) recomputeAsSpeaker(p *player) {
	for _, q := range m.others(p) {
		m.recomputePair(q, p)
	}
}

func (m *Mixer) recomputeAll() {
	for _, id := range slices.Sorted(maps.Keys(m.players)) {
		m.recomputeAsListener(m.players[id])
	}
}

// recomputePair updates what listener hears of speaker. The listener owns the
// in-range state: a pair that was out of range and still computes silence
// sends nothing.
func (m *Mixer) recomputePair(listener, speaker *player) {
	if listener.ID == speaker.ID || listener.CallID == "" || speaker.CallID == "" ||
		listener.CallID == speaker.CallID {
		return
	}

	mix := domain.Silent
	if listener.listens() {
		mix = m.spatialize(listener, speaker)
	}

	_, was := listener.inRange[speaker.ID]
	switch {
	case mix.IsSilent() && !was:
		return
	case mix.IsSilent():
		m.leaveRange(listener, speaker)
	case !was:
		m.enterRange(listener, speaker)
	}

	if last, ok := listener.sent[speaker.ID]; ok && last == mix {
		return
	}
	if mix.IsSilent() {
		delete(listener.sent, speaker.ID)
	} else {
		listener.sent[speaker.ID] = mix
	}
	m.sink.SetMix(speaker.CallID, listener.CallID, mix)
}

func (m *Mixer) enterRange(listener, speaker *player) {
	listener.inRange[speaker.ID] = struct{}{}
	m.metrics.RangeTransitions.WithLabelValues("entered").Inc()
	m.pending = append(m.pending, core.RangeEvent{Listener: listener.ID, Speaker: speaker.ID, InRange: true})
}

func (m *Mixer) leaveRange(listener, speaker *player) {
	delete(listener.inRange, speaker.ID)
	m.metrics.RangeTransitions.WithLabelValues("left").Inc()
	m.pending = append(m.pending, core.RangeEvent{Listener: listener.ID, Speaker: speaker.ID, InRange: false})
}

// spatialize computes the canonical mix listener has for speaker.
func (m *Mixer) spatialize(listener, speaker *player) domain.Mix {
	if speaker.Muted {
		return domain.Silent
	}

	best := domain.Silent
	var via *audioGroup
	for _, gid := range slices.Sorted(maps.Keys(listener.groups)) {
		g := listener.groups[gid]
		info, ok := g.members[speaker.ID]
		if !ok || !info.Speaking {
			continue
		}
		s := g.spatializer
		if speaker.PublicSpatializer != nil {
			s = speaker.PublicSpatializer
		}
		if s == nil {
			s = m.defaults.For(&speaker.Player)
		}
		if mix := s.Spatialize(speaker.transform(), listener.transform()); mix.Volume > best.Volume {
			best, via = mix, g
		}
	}
	if via == nil {
		return domain.Silent
	}
	best.Volume *= via.members[listener.ID].ListenAttenuation * via.members[speaker.ID].SpeakingAttenuation
	if best.Volume == 0 {
		return domain.Silent
	}

	if s, ok := listener.private[speaker.ID]; ok {
		best = s.Spatialize(speaker.transform(), listener.transform())
	} else {
		best.Volume *= m.wallAttenuation(listener, speaker)
	}
	if !speaker.Live {
		best.Volume *= listener.AmbientVolume * speaker.AmbientVolume
	}
	best.Volume *= listener.MasterVolume

	best.Volume = domain.CanonicalVolume(best.Volume)
	if best.Volume == 0 {
		return domain.Silent
	}
	best.FrontBack = round2(best.FrontBack)
	best.LeftRight = round2(best.LeftRight)
	best.UpDown = round2(best.UpDown)
	return best
}

// wallAttenuation applies the first wall, in insertion order, that lies
// between the two players.
func (m *Mixer) wallAttenuation(listener, speaker *player) float64 {
	for _, w := range m.walls {
		if w.Blocks(listener.transform(), speaker.transform()) {
			return w.Characteristic
		}
	}
	return 1
}
