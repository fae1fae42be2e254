package signal

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
)

// Kinds is a set of event kinds a client wants.
type Kinds uint8

const (
	KindStatus Kinds = 1 << iota
	KindCalls
	KindRange
	KindBridges

	AllKinds = KindStatus | KindCalls | KindRange | KindBridges
)

type kindName struct {
	kind Kinds
	name string
}

var kindNames = []kindName{
	{KindStatus, "status"},
	{KindCalls, "calls"},
	{KindRange, "range"},
	{KindBridges, "bridges"},
}

// ParseKinds accepts names or comma separated lists of names. No names
// means every kind.
func ParseKinds(names ...string) (Kinds, error) {
	var k Kinds
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			i := slices.IndexFunc(kindNames, func(kn kindName) bool { return kn.name == part })
			if i < 0 {
				return 0, fmt.Errorf("unknown event kind %q", part)
			}
			k |= kindNames[i].kind
		}
	}
	if k == 0 {
		k = AllKinds
	}
	return k, nil
}

func (k Kinds) Has(other Kinds) bool { return k&other != 0 }

func (k Kinds) Names() []string {
	var out []string
	for _, kn := range kindNames {
		if k.Has(kn.kind) {
			out = append(out, kn.name)
		}
	}
	return out
}

func (k Kinds) String() string { return strings.Join(k.Names(), ",") }

const sessionKindsKey = "event_kinds"

// sessionKinds reads ?kinds= and remembers it in the session, so a client
// reconnecting without the parameter keeps its filter.
func sessionKinds(c *gin.Context) (Kinds, error) {
	session := sessions.Default(c)
	raw, ok := c.GetQuery("kinds")
	if !ok {
		stored, _ := session.Get(sessionKindsKey).(string)
		return ParseKinds(stored)
	}
	kinds, err := ParseKinds(raw)
	if err != nil {
		return 0, err
	}
	session.Set(sessionKindsKey, kinds.String())
	if err := session.Save(); err != nil {
		return 0, fmt.Errorf("save session: %w", err)
	}
	return kinds, nil
}

// Event is one frame of the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (ctl *EventWSController) subscribe(token string, conn *WsSignalConn) []func() {
	events := ctl.Orch.Events
	forward := func(kind Kinds, name string, data any) {
		if conn.kinds().Has(kind) {
			ctl.sendJSON(conn, Event{Type: name, Data: data})
		}
	}
	return []func(){
		events.Status.Subscribe(func(st domain.CallStatus) { forward(KindStatus, "status", st) }),
		events.Calls.Subscribe(func(ev core.CallEvent) { forward(KindCalls, "call", ev) }),
		events.Range.Subscribe(func(ev core.RangeEvent) { forward(KindRange, "range", ev) }),
		events.Bridges.Subscribe(func(ev core.BridgeEvent) { forward(KindBridges, "bridge", ev) }),
	}
}
