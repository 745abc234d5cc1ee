// Package triage drains a platform's pending image bucket through the
// two-stage pipeline: subject detection first, emotion classification
// second. Every asset leaves pending exactly once, into filtered or
// rejected.
package triage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/reblisbiver/emotional-crawler/pkg/emotion"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
)

// Store is the slice of the persistence layer the triage pass needs.
type Store interface {
	PendingAssets(platform models.Platform) ([]*models.ImageAsset, error)
	MoveAsset(asset *models.ImageAsset, state models.AssetState) error
	AppendImageBatch(platform models.Platform, records []models.ImageBatchRecord) error
}

// Machine runs the triage pass. Assets are processed strictly one at a
// time in bucket order.
type Machine struct {
	detector   emotion.SubjectDetector
	classifier emotion.ImageClassifier
	gate       *emotion.Gate
	store      Store
	log        logger.Logger
}

// NewMachine assembles a triage machine.
func NewMachine(detector emotion.SubjectDetector, classifier emotion.ImageClassifier, gate *emotion.Gate, store Store, log logger.Logger) *Machine {
	if log == nil {
		log = logger.Nop()
	}
	return &Machine{
		detector:   detector,
		classifier: classifier,
		gate:       gate,
		store:      store,
		log:        log,
	}
}

// Run triages every pending asset of one platform and writes the batch
// summary. A per-asset failure rejects that asset and the pass moves on.
func (m *Machine) Run(ctx context.Context, platform models.Platform) (*models.TriageStats, error) {
	assets, err := m.store.PendingAssets(platform)
	if err != nil {
		return nil, err
	}

	stats := &models.TriageStats{Platform: platform}
	var records []models.ImageBatchRecord

	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Total++

		record, state := m.triageOne(ctx, asset, stats)
		if record != nil {
			records = append(records, *record)
		}
		if err := m.store.MoveAsset(asset, state); err != nil {
			m.log.WithError(err).WithField("path", asset.LocalPath).Error("failed to move asset")
		}
	}

	if err := m.store.AppendImageBatch(platform, records); err != nil {
		m.log.WithError(err).Error("failed to write triage summary")
	}

	m.log.InfoWithFields("triage finished", map[string]interface{}{
		"platform":    string(platform),
		"total":       stats.Total,
		"filtered":    stats.Filtered,
		"no_subject":  stats.RejectedNoSubject,
		"below_gate":  stats.RejectedGate,
		"failed":      stats.Failed,
	})
	return stats, nil
}

// triageOne decides one asset's terminal state. It returns a batch
// record only when the asset reached classification.
func (m *Machine) triageOne(ctx context.Context, asset *models.ImageAsset, stats *models.TriageStats) (*models.ImageBatchRecord, models.AssetState) {
	data, err := os.ReadFile(asset.LocalPath)
	if err != nil {
		stats.Failed++
		m.log.WithError(err).WithField("path", asset.LocalPath).Warn("unreadable asset")
		return nil, models.AssetRejected
	}

	hasSubject, err := m.detector.DetectSubject(ctx, data)
	if err != nil {
		stats.Failed++
		m.log.WithError(err).WithField("path", asset.LocalPath).Warn("subject detection failed")
		return nil, models.AssetRejected
	}
	if !hasSubject {
		stats.RejectedNoSubject++
		return nil, models.AssetRejected
	}
	asset.HasSubject = true
	stats.HasSubject++

	res, err := m.classifier.ClassifyImage(ctx, data)
	if err != nil {
		stats.Failed++
		m.log.WithError(err).WithField("path", asset.LocalPath).Warn("image classification failed")
		return nil, models.AssetRejected
	}

	passed, dominant, _ := m.gate.Admit(res.Scores)
	asset.EmotionScores = res.Scores.StringMap()
	asset.DominantCategory = string(dominant)

	record := &models.ImageBatchRecord{
		Filename: filepath.Base(asset.LocalPath),
		Emotion:  string(dominant),
		Score:    res.Scores[dominant],
		Emotions: res.Scores.StringMap(),
		Passed:   passed,
	}

	if !passed {
		stats.RejectedGate++
		return record, models.AssetRejected
	}
	stats.Filtered++
	return record, models.AssetFiltered
}
