// Package models defines the data types shared across the harvest,
// triage, and persistence layers.
package models

import "time"

// Platform identifies a supported content source.
type Platform string

const (
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformWeibo       Platform = "weibo"
)

// KnownPlatforms lists every platform the crawler understands, in the
// order they are processed during a full run.
var KnownPlatforms = []Platform{PlatformXiaohongshu, PlatformWeibo}

// ParsePlatform returns the Platform for a user-supplied name.
func ParsePlatform(name string) (Platform, bool) {
	for _, p := range KnownPlatforms {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// ContentItem is one harvested post after extraction and classification.
// It is only handed to the persistence layer once every field, including
// the emotion scores, has been finalized.
type ContentItem struct {
	Platform          Platform           `json:"platform"`
	ExternalID        string             `json:"external_id"`
	RawText           string             `json:"content"`
	ImageRefs         []string           `json:"image_refs,omitempty"`
	CrawlTimestamp    time.Time          `json:"crawl_time"`
	EmotionScores     map[string]float64 `json:"emotions"`
	DominantCategory  string             `json:"dominant"`
	SecondaryCategory string             `json:"secondary,omitempty"`
	PassedGate        bool               `json:"passed_gate"`
}

// AssetState is the triage state of a downloaded image. Pending is the
// only non-terminal state; the transition out of it happens exactly once.
type AssetState string

const (
	AssetPending  AssetState = "pending"
	AssetFiltered AssetState = "filtered"
	AssetRejected AssetState = "rejected"
)

// ImageAsset is one downloaded image moving through triage.
type ImageAsset struct {
	Platform         Platform           `json:"platform"`
	OwnerID          string             `json:"owner_id"`
	LocalPath        string             `json:"local_path"`
	State            AssetState         `json:"state"`
	HasSubject       bool               `json:"has_subject"`
	EmotionScores    map[string]float64 `json:"emotions,omitempty"`
	DominantCategory string             `json:"dominant,omitempty"`
}

// ImageBatchRecord is one line of the per-batch triage summary. A record
// is appended for every asset that was classified, pass or fail.
type ImageBatchRecord struct {
	Filename string             `json:"filename"`
	Emotion  string             `json:"emotion"`
	Score    float64            `json:"score"`
	Emotions map[string]float64 `json:"all_emotions"`
	Passed   bool               `json:"passed"`
}

// CrawlStats summarizes one platform's harvest run.
type CrawlStats struct {
	Platform         Platform `json:"platform"`
	TotalChecked     int      `json:"total_checked"`
	TextsSaved       int      `json:"texts_saved"`
	TextsDropped     int      `json:"texts_dropped"`
	ImagesDownloaded int      `json:"images_downloaded"`
	ClassifyFailures int      `json:"classify_failures"`
	ClassifyRetries  int      `json:"classify_retries"`
	Cycles           int      `json:"cycles"`
	StoppedReason    string   `json:"stopped_reason"`
}

// TriageStats summarizes one platform's image triage pass.
type TriageStats struct {
	Platform          Platform `json:"platform"`
	Total             int      `json:"total"`
	HasSubject        int      `json:"has_subject"`
	Filtered          int      `json:"filtered"`
	RejectedNoSubject int      `json:"rejected_no_subject"`
	RejectedGate      int      `json:"rejected_gate"`
	Failed            int      `json:"failed"`
}
