package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/rigstream/pkg/core"
)

// RunExport is the root JSON structure of an exported run.
type RunExport struct {
	Run       core.Run              `json:"run"`
	Duration  float64               `json:"durationSeconds"`
	EndTick   uint64                `json:"endTick"`
	Sessions  []core.Session        `json:"sessions"`
	Rigs      map[string]*RigRecord `json:"rigs"`
	RigOrder  []string              `json:"rigOrder"`
	TickStats []core.TickStats      `json:"tickStats"`
}

func (b *Backend) buildExport() RunExport {
	run := *b.run
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now()
	}
	export := RunExport{
		Run:       run,
		Duration:  run.EndedAt.Sub(run.StartedAt).Seconds(),
		Sessions:  make([]core.Session, 0, len(b.sessions)),
		Rigs:      b.rigs,
		RigOrder:  b.rigOrder,
		TickStats: b.tickStats,
	}
	for _, s := range b.sessions {
		export.Sessions = append(export.Sessions, *s)
	}
	for _, ts := range b.tickStats {
		export.EndTick = max(export.EndTick, ts.Tick)
	}
	for _, r := range b.rigs {
		for _, s := range r.Samples {
			export.EndTick = max(export.EndTick, s.Tick)
		}
	}
	if export.TickStats == nil {
		export.TickStats = []core.TickStats{}
	}
	return export
}

// exportFileName is rigstream_<run key>_<start>.json[.gz].
func (b *Backend) exportFileName() string {
	name := fmt.Sprintf("rigstream_%s_%s.json", b.run.Key, b.run.StartedAt.UTC().Format("20060102_150405"))
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return name
}

func (b *Backend) exportJSON() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(b.cfg.OutputDir, b.exportFileName())

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if b.cfg.CompressOutput {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	if err := json.NewEncoder(w).Encode(b.buildExport()); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	b.exportPath = path
	return nil
}
