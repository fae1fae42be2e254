package mixrouter

import (
	"context"
	"fmt"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/domain"
)

//go:generate mockgen -source=bridges.go -destination=mock_bridges_test.go -package=mixrouter

// Link is the part of a bridge link the router writes mixes to.
type Link interface {
	Key() string
	String() string
	Address() domain.BridgeAddress
	SendCommand(lines ...string) error
}

// Bridges is the part of the bridge pool the router needs to find a call's
// bridge and to place relay legs.
type Bridges interface {
	LinkFor(callID string) (Link, bool)
	CallParticipant(callID string) (domain.CallParticipant, bool)
	SetupCallOn(ctx context.Context, link Link, cp domain.CallParticipant) error
	RegisterCall(link Link, cp domain.CallParticipant) error
	EndCall(ctx context.Context, callID string) error
	// ReportFailure tells the pool a write to link failed.
	ReportFailure(ctx context.Context, link Link, err error)
}

type poolBridges struct {
	pool *app.Pool
}

// NewPoolBridges exposes pool to the router.
func NewPoolBridges(pool *app.Pool) Bridges {
	return poolBridges{pool: pool}
}

func (b poolBridges) LinkFor(callID string) (Link, bool) {
	l, ok := b.pool.LinkFor(callID)
	if !ok {
		return nil, false
	}
	return l, true
}

func (b poolBridges) CallParticipant(callID string) (domain.CallParticipant, bool) {
	return b.pool.CallParticipant(callID)
}

func (b poolBridges) SetupCallOn(ctx context.Context, link Link, cp domain.CallParticipant) error {
	l, err := poolLink(link)
	if err != nil {
		return err
	}
	return b.pool.SetupCallOn(ctx, l, cp)
}

func (b poolBridges) RegisterCall(link Link, cp domain.CallParticipant) error {
	l, err := poolLink(link)
	if err != nil {
		return err
	}
	return b.pool.RegisterCall(l, cp)
}

func (b poolBridges) EndCall(ctx context.Context, callID string) error {
	return b.pool.EndCall(ctx, callID)
}

func (b poolBridges) ReportFailure(ctx context.Context, link Link, err error) {
	if l, lerr := poolLink(link); lerr == nil {
		b.pool.ReportFailure(ctx, l, err)
	}
}

func poolLink(link Link) (*bridge.Link, error) {
	l, ok := link.(*bridge.Link)
	if !ok {
		return nil, fmt.Errorf("link %s does not belong to the pool", link)
	}
	return l, nil
}
