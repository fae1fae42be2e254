package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dkeye/voicebridge/internal/domain"
)

func (l *Link) send(ctx context.Context, cmd string) error {
	_, err := l.SendWithResponse(ctx, cmd)
	return err
}

func (l *Link) query(ctx context.Context, cmd string) ([]string, error) {
	resp, err := l.SendWithResponse(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return resp.Contents, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (l *Link) StartInputTreatment(ctx context.Context, callID, treatment string) error {
	return l.send(ctx, "startInputTreatment="+treatment+":"+callID)
}

func (l *Link) PauseInputTreatment(ctx context.Context, callID string, pause bool) error {
	return l.send(ctx, "pauseInputTreatment="+strconv.FormatBool(pause)+":"+callID)
}

func (l *Link) ResumeInputTreatment(ctx context.Context, callID string) error {
	return l.send(ctx, "resumeTreatmentToCall="+callID)
}

func (l *Link) StopInputTreatment(ctx context.Context, callID string) error {
	return l.send(ctx, "stopInputTreatment="+callID)
}

func (l *Link) RestartInputTreatment(ctx context.Context, callID string) error {
	return l.send(ctx, "restartInputTreatment="+callID)
}

func (l *Link) PlayTreatmentToCall(ctx context.Context, callID, treatment string) error {
	return l.send(ctx, "playTreatmentToCall="+treatment+":"+callID)
}

func (l *Link) PauseTreatmentToCall(ctx context.Context, callID, treatment string) error {
	return l.send(ctx, "pauseTreatmentToCall="+callID+":"+treatment)
}

func (l *Link) StopTreatmentToCall(ctx context.Context, callID, treatment string) error {
	return l.send(ctx, "stopTreatmentToCall="+callID+":"+treatment)
}

func (l *Link) SetSpatialAudio(ctx context.Context, enabled bool) error {
	return l.send(ctx, "spatialAudio="+strconv.FormatBool(enabled))
}

func (l *Link) SetSpatialMinVolume(ctx context.Context, v float64) error {
	return l.send(ctx, "smv="+formatFloat(v))
}

func (l *Link) SetSpatialFalloff(ctx context.Context, v float64) error {
	return l.send(ctx, "spatialFalloff="+formatFloat(v))
}

func (l *Link) SetSpatialEchoDelay(ctx context.Context, v float64) error {
	return l.send(ctx, "spatialEchoDelay="+formatFloat(domain.Round(v, 5)))
}

func (l *Link) SetSpatialEchoVolume(ctx context.Context, v float64) error {
	return l.send(ctx, "spatialEchoVolume="+formatFloat(domain.Round(v, 5)))
}

func (l *Link) SetSpatialBehindVolume(ctx context.Context, v float64) error {
	return l.send(ctx, "spatialBehindVolume="+formatFloat(domain.Round(v, 5)))
}

// ForwardData makes the bridge copy sourceCallID's audio to targetCallID.
func (l *Link) ForwardData(ctx context.Context, targetCallID, sourceCallID string) error {
	return l.send(ctx, "forwardData="+targetCallID+":"+sourceCallID)
}

func (l *Link) StartRecordingToCall(ctx context.Context, callID, file string) error {
	if err := l.send(ctx, "recordToMember=t:"+callID+":"+file+":au"); err != nil {
		return fmt.Errorf("start recording %s: %w", callID, err)
	}
	return nil
}

func (l *Link) StopRecordingToCall(ctx context.Context, callID string) error {
	if err := l.send(ctx, "recordToMember=f:"+callID); err != nil {
		return fmt.Errorf("stop recording %s: %w", callID, err)
	}
	return nil
}

func (l *Link) Suspend(ctx context.Context) error { return l.send(ctx, "suspend") }

func (l *Link) Resume(ctx context.Context) error { return l.send(ctx, "resume") }

func (l *Link) GetBridgeStatus(ctx context.Context) ([]string, error) { return l.query(ctx, "gs") }

func (l *Link) GetCallInfo(ctx context.Context) ([]string, error) { return l.query(ctx, "ci") }

func (l *Link) GetCallStatus(ctx context.Context, callID string) ([]string, error) {
	return l.query(ctx, "gcs="+callID)
}

func (l *Link) GetTreatmentsPlaying(ctx context.Context) ([]string, error) { return l.query(ctx, "tp") }
