package domain

import (
	"path/filepath"
	"strconv"
)

// Artifact directory and file names under a lot directory
const (
	FramesDir    = "frames"
	OverlaysDir  = "overlays"
	MapsDir      = "maps"
	LatestFrame  = "latest.jpg"
	SnapshotFile = "snapshot.json"
	ConfigFile   = "lot_config.json"
)

// ArtifactDirs are the prunable directories of a lot
var ArtifactDirs = []string{FramesDir, OverlaysDir, MapsDir}

// Layout maps lot ids onto DATA_DIR/lot{id}/...
type Layout struct{ Root string }

// Dir is the lot directory
func (l Layout) Dir(id int64) string { return filepath.Join(l.Root, "lot"+strconv.FormatInt(id, 10)) }

// Frames is the capture output directory
func (l Layout) Frames(id int64) string { return filepath.Join(l.Dir(id), FramesDir) }

// Overlays is the rendered overlay directory
func (l Layout) Overlays(id int64) string { return filepath.Join(l.Dir(id), OverlaysDir) }

// Maps is the rendered map directory
func (l Layout) Maps(id int64) string { return filepath.Join(l.Dir(id), MapsDir) }

// Latest is the frame the detection worker polls
func (l Layout) Latest(id int64) string { return filepath.Join(l.Frames(id), LatestFrame) }

// Snapshot is the current snapshot file
func (l Layout) Snapshot(id int64) string { return filepath.Join(l.Dir(id), SnapshotFile) }

// Config is lot_config.json
func (l Layout) Config(id int64) string { return filepath.Join(l.Dir(id), ConfigFile) }
