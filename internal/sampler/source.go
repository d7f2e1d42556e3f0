package sampler

import "fmt"

const (
	SourceWebcam   = "webcam"
	SourceSnapshot = "snapshot"
)

// NewSource builds the configured frame source.
func NewSource(cfg Config) (FrameSource, error) {
	switch cfg.Source {
	case SourceWebcam, "":
		return NewWebcamSource(cfg.Device, cfg.Cascade)
	case SourceSnapshot:
		if cfg.SnapshotURL == "" {
			return nil, fmt.Errorf("snapshot source requires snapshot_url")
		}
		return NewSnapshotSource(cfg.SnapshotURL), nil
	default:
		return nil, fmt.Errorf("unknown frame source %q", cfg.Source)
	}
}
