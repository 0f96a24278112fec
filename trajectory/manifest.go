package trajectory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/traceplay/replayd/domain"
)

// LoadManifest reads a blob manifest (JSON object mapping content-reference
// IDs to stored content). An empty path yields an empty manifest. A missing
// file is tolerated: it yields an empty manifest plus a warning, so a
// trajectory without write/edit content can still replay.
func LoadManifest(path string) (domain.BlobManifest, []domain.Warning, error) {
	if path == "" {
		return domain.BlobManifest{}, nil, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		warn := domain.Warning{
			EventIndex: -1,
			Code:       domain.WarningManifestMissing,
			Message:    fmt.Sprintf("blob manifest not found: %s", path),
		}
		return domain.BlobManifest{}, []domain.Warning{warn}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read blob manifest: %w", err)
	}

	var manifest domain.BlobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, malformed("blob manifest must be a JSON object of id -> content")
	}
	return manifest, nil, nil
}

// Resolve hydrates file_write / file_edit events carrying a content
// reference. A missing reference never fails the trajectory: the event keeps
// an empty content field and a warning is recorded instead.
func Resolve(traj domain.Trajectory, manifest domain.BlobManifest) []domain.Warning {
	var warnings []domain.Warning
	for i := range traj {
		ev := &traj[i]
		if ev.ContentRef == "" {
			continue
		}
		if ev.Type != domain.EventTypeFileWrite && ev.Type != domain.EventTypeFileEdit {
			continue
		}
		content, ok := manifest[ev.ContentRef]
		if !ok {
			warnings = append(warnings, domain.Warning{
				EventIndex: ev.Index,
				Code:       domain.WarningMissingBlob,
				Message:    fmt.Sprintf("content reference %q not in manifest", ev.ContentRef),
			})
			continue
		}
		ev.Content = content
	}
	return warnings
}
