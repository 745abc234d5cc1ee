// Package store is the persistence layer: per-platform append-only JSON
// text stores, the pending/filtered/rejected image buckets, and the
// aggregate statistics files. All writes go through a temporary file and
// an atomic rename; an item is serialized only after classification is
// final.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/reblisbiver/emotional-crawler/pkg/logger"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
)

// Manager owns the on-disk layout.
type Manager struct {
	textDir  string
	imageDir string
	statsDir string
	log      logger.Logger

	// now is swapped out by tests for stable file names.
	now func() time.Time
}

// NewManager creates the output roots. Directory creation is idempotent.
func NewManager(textDir, imageDir, statsDir string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		textDir:  textDir,
		imageDir: imageDir,
		statsDir: statsDir,
		log:      log,
		now:      time.Now,
	}
	for _, dir := range []string{textDir, imageDir, statsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return m, nil
}

// AppendContentItems appends admitted items to the platform's day file,
// merging with whatever the file already holds. File identity carries
// the day, so runs on different days never silently overwrite each
// other.
func (m *Manager) AppendContentItems(platform models.Platform, items []models.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	dir := filepath.Join(m.textDir, string(platform))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create text directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("filtered_%s.json", m.now().Format("20060102")))

	var existing []models.ContentItem
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("existing text store is corrupt: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read text store: %w", err)
	}

	existing = append(existing, items...)
	if err := m.writeJSON(path, existing); err != nil {
		return err
	}

	m.log.InfoWithFields("content items persisted", map[string]interface{}{
		"platform": string(platform),
		"appended": len(items),
		"total":    len(existing),
		"path":     path,
	})
	return nil
}

// BucketDir returns the directory of one triage bucket, creating it if
// needed.
func (m *Manager) BucketDir(platform models.Platform, state models.AssetState) (string, error) {
	dir := filepath.Join(m.imageDir, string(platform), string(state))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create bucket directory: %w", err)
	}
	return dir, nil
}

// SavePendingImage writes freshly downloaded image bytes into the
// pending bucket and returns the asset it produced.
func (m *Manager) SavePendingImage(platform models.Platform, ownerID string, index int, data []byte) (*models.ImageAsset, error) {
	dir, err := m.BucketDir(platform, models.AssetPending)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", ownerID, index))
	if err := m.writeBytes(path, data); err != nil {
		return nil, err
	}

	return &models.ImageAsset{
		Platform:  platform,
		OwnerID:   ownerID,
		LocalPath: path,
		State:     models.AssetPending,
	}, nil
}

// PendingAssets lists the platform's pending bucket in name order.
func (m *Manager) PendingAssets(platform models.Platform) ([]*models.ImageAsset, error) {
	dir, err := m.BucketDir(platform, models.AssetPending)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending bucket: %w", err)
	}

	var assets []*models.ImageAsset
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".jpg", ".jpeg", ".png":
		default:
			continue
		}
		assets = append(assets, &models.ImageAsset{
			Platform:  platform,
			OwnerID:   ownerFromFilename(entry.Name()),
			LocalPath: filepath.Join(dir, entry.Name()),
			State:     models.AssetPending,
		})
	}
	return assets, nil
}

// MoveAsset moves an asset out of pending into its terminal bucket. The
// rename is the state transition; it happens exactly once per asset.
func (m *Manager) MoveAsset(asset *models.ImageAsset, state models.AssetState) error {
	if asset.State != models.AssetPending {
		return fmt.Errorf("asset %s already in terminal state %s", asset.LocalPath, asset.State)
	}
	if state == models.AssetPending {
		return fmt.Errorf("cannot transition asset back to pending")
	}

	dir, err := m.BucketDir(asset.Platform, state)
	if err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.Base(asset.LocalPath))
	if err := os.Rename(asset.LocalPath, dest); err != nil {
		return fmt.Errorf("failed to move asset: %w", err)
	}

	asset.LocalPath = dest
	asset.State = state
	return nil
}

// AppendImageBatch writes the per-batch triage summary next to the
// filtered bucket, timestamped per batch.
func (m *Manager) AppendImageBatch(platform models.Platform, records []models.ImageBatchRecord) error {
	if len(records) == 0 {
		return nil
	}

	dir, err := m.BucketDir(platform, models.AssetFiltered)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("analysis_%s.json", m.now().Format("20060102_150405")))
	return m.writeJSON(path, records)
}

// WriteStatistics writes an aggregate statistics file for one analysis
// run. The name carries a timestamp and a run marker so repeated runs
// never collide.
func (m *Manager) WriteStatistics(scope string, stats interface{}) (string, error) {
	if err := os.MkdirAll(m.statsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create stats directory: %w", err)
	}
	runMarker := uuid.NewString()[:8]
	path := filepath.Join(m.statsDir,
		fmt.Sprintf("stats_%s_%s_%s.json", scope, m.now().Format("20060102_150405"), runMarker))
	if err := m.writeJSON(path, stats); err != nil {
		return "", err
	}
	return path, nil
}

// writeJSON marshals v and replaces path atomically.
func (m *Manager) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return m.writeBytes(path, data)
}

// writeBytes writes through a temp file and renames into place.
func (m *Manager) writeBytes(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// ownerFromFilename recovers the owner id from the {owner}_{index}.jpg
// naming convention.
func ownerFromFilename(name string) string {
	base := name[:len(name)-len(filepath.Ext(name))]
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '_' {
			return base[:i]
		}
	}
	return base
}
