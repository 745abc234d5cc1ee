package emotion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
	"github.com/reblisbiver/emotional-crawler/pkg/ratelimit"
	"github.com/reblisbiver/emotional-crawler/pkg/retry"
)

const (
	textSystemPrompt = `You are a text emotion analyst. Score the text on seven emotions: ` +
		`joy, anger, sadness, fear, surprise, disgust, neutral. Recognize irony and mixed ` +
		`emotions; scores are floats in [0,1]. Reply with exactly one JSON object and nothing ` +
		`else: {"scores": {"joy": 0.0, "anger": 0.0, "sadness": 0.0, "fear": 0.0, ` +
		`"surprise": 0.0, "disgust": 0.0, "neutral": 0.0}, "dominant": "...", "secondary": "..."}`

	imageSystemPrompt = `You are a facial emotion analyst. Score the emotions visible on the ` +
		`most prominent face in the image across joy, anger, sadness, fear, surprise, disgust, ` +
		`neutral as floats in [0,1]. Reply with exactly one JSON object: {"scores": {...}, ` +
		`"dominant": "...", "secondary": "..."}`

	detectSystemPrompt = `Determine whether the image contains a human face or a human body. ` +
		`Reply with exactly one JSON object: {"subject": true} or {"subject": false}`
)

// jsonObjectPattern recovers the first object-shaped substring from a
// reply that wrapped its JSON in prose or a code fence.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Client talks to the chat-completions style classification backend.
// Transient failures are retried with bounded exponential backoff; a
// response that stays malformed after substring recovery counts as
// transient too, so a flaky model gets its full attempt budget before
// the item is declared failed.
type Client struct {
	httpClient *http.Client
	endpoint   string
	model      string
	apiKey     string
	maxTextLen int
	retryCfg   *retry.Config
	limiter    ratelimit.Limiter
	log        logger.Logger

	// onTransient observes each transient failure, for run statistics.
	onTransient func(err error)
}

// SetOnTransient installs the transient-failure observer. The caller
// that owns the run statistics installs its counter here; pass nil to
// remove it.
func (c *Client) SetOnTransient(fn func(err error)) {
	c.onTransient = fn
}

// NewClient builds a classification client from the emotion config.
func NewClient(cfg *config.EmotionConfig, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxTextLen: cfg.MaxTextLength,
		retryCfg: &retry.Config{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     retry.NewExponentialBackoff(cfg.BackoffBase, cfg.BackoffMax),
			RetryIf:     crawlerrors.IsRetryable,
			Logger:      log,
		},
		limiter: limiter,
		log:     log,
	}
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// resultPayload is the closed schema the model must return.
type resultPayload struct {
	Scores    map[string]float64 `json:"scores"`
	Dominant  string             `json:"dominant"`
	Secondary string             `json:"secondary"`
}

// ClassifyText classifies a text body. The text is whitespace-collapsed
// and truncated before submission.
func (c *Client) ClassifyText(ctx context.Context, text string) (*Result, error) {
	const op = "emotion.ClassifyText"

	text = NormalizeText(text, c.maxTextLen)
	if text == "" {
		return nil, crawlerrors.E(crawlerrors.KindClassificationFailed, op, "empty text")
	}

	messages := []chatMessage{
		{Role: "system", Content: textSystemPrompt},
		{Role: "user", Content: "Analyze the emotions of this text: " + text},
	}
	return c.classify(ctx, op, messages)
}

// ClassifyImage classifies the face region of an image.
func (c *Client) ClassifyImage(ctx context.Context, image []byte) (*Result, error) {
	const op = "emotion.ClassifyImage"

	if len(image) == 0 {
		return nil, crawlerrors.E(crawlerrors.KindClassificationFailed, op, "empty image")
	}
	messages := []chatMessage{
		{Role: "system", Content: imageSystemPrompt},
		{Role: "user", Content: imageContent(image)},
	}
	return c.classify(ctx, op, messages)
}

// DetectSubject reports whether the image contains a face or body.
func (c *Client) DetectSubject(ctx context.Context, image []byte) (bool, error) {
	const op = "emotion.DetectSubject"

	if len(image) == 0 {
		return false, crawlerrors.E(crawlerrors.KindClassificationFailed, op, "empty image")
	}
	messages := []chatMessage{
		{Role: "system", Content: detectSystemPrompt},
		{Role: "user", Content: imageContent(image)},
	}

	var detected bool
	attempt := func() error {
		content, err := c.complete(ctx, op, messages)
		if err != nil {
			return err
		}
		var payload struct {
			Subject bool `json:"subject"`
		}
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			recovered := jsonObjectPattern.FindString(content)
			if recovered == "" || json.Unmarshal([]byte(recovered), &payload) != nil {
				return crawlerrors.E(crawlerrors.KindClassificationTransient, op, "response is not a JSON object")
			}
		}
		detected = payload.Subject
		return nil
	}

	if err := c.doWithRetry(ctx, op, attempt); err != nil {
		return false, err
	}
	return detected, nil
}

// classify runs one classification conversation with retry and schema
// validation.
func (c *Client) classify(ctx context.Context, op string, messages []chatMessage) (*Result, error) {
	var result *Result
	attempt := func() error {
		content, err := c.complete(ctx, op, messages)
		if err != nil {
			return err
		}
		parsed, err := parseResult(op, content)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	}

	if err := c.doWithRetry(ctx, op, attempt); err != nil {
		return nil, err
	}
	return result, nil
}

// doWithRetry applies the bounded retry policy and escalates exhausted
// transients to ClassificationFailed.
func (c *Client) doWithRetry(ctx context.Context, op string, attempt retry.Operation) error {
	cfg := *c.retryCfg
	cfg.OnRetry = func(n int, err error, delay time.Duration) {
		if c.onTransient != nil {
			c.onTransient(err)
		}
	}

	err := retry.Do(ctx, attempt, &cfg)
	if err == nil {
		return nil
	}
	if crawlerrors.Is(err, crawlerrors.KindClassificationFailed) {
		return err
	}
	return crawlerrors.Wrap(crawlerrors.KindClassificationFailed, op, err)
}

// complete performs one round-trip and returns the model's reply text.
func (c *Client) complete(ctx context.Context, op string, messages []chatMessage) (string, error) {
	c.limiter.Wait()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.0,
		MaxTokens:   300,
	})
	if err != nil {
		return "", crawlerrors.Wrap(crawlerrors.KindClassificationFailed, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", crawlerrors.Wrap(crawlerrors.KindClassificationFailed, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WarnWithFields("classification request failed", map[string]interface{}{
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return "", crawlerrors.Wrap(crawlerrors.KindClassificationTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := crawlerrors.KindClassificationFailed
		if crawlerrors.IsRetryableStatusCode(resp.StatusCode) {
			kind = crawlerrors.KindClassificationTransient
		}
		return "", crawlerrors.E(kind, op, fmt.Sprintf("backend returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", crawlerrors.Wrap(crawlerrors.KindClassificationTransient, op, err)
	}

	var envelope chatResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", crawlerrors.Wrap(crawlerrors.KindClassificationTransient, op, err)
	}
	if len(envelope.Choices) == 0 {
		return "", crawlerrors.E(crawlerrors.KindClassificationTransient, op, "backend returned no choices")
	}
	return strings.TrimSpace(envelope.Choices[0].Message.Content), nil
}

// parseResult validates the model reply against the closed schema, with
// one best-effort recovery by extracting the first object substring.
func parseResult(op, content string) (*Result, error) {
	var payload resultPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		recovered := jsonObjectPattern.FindString(content)
		if recovered == "" {
			return nil, crawlerrors.E(crawlerrors.KindClassificationTransient, op, "response is not a JSON object")
		}
		if err := json.Unmarshal([]byte(recovered), &payload); err != nil {
			return nil, crawlerrors.Wrap(crawlerrors.KindClassificationTransient, op, err)
		}
	}

	scores := make(Scores, len(Vocabulary))
	for name, v := range payload.Scores {
		c, ok := ParseCategory(name)
		if !ok {
			return nil, crawlerrors.E(crawlerrors.KindClassificationTransient, op,
				fmt.Sprintf("unknown category in response: %s", name))
		}
		scores[c] = v
	}
	if !scores.Complete() {
		return nil, crawlerrors.E(crawlerrors.KindClassificationTransient, op,
			"response is missing categories")
	}

	dominant, ok := ParseCategory(payload.Dominant)
	secondary, okSecondary := ParseCategory(payload.Secondary)
	if !ok {
		// The scores are authoritative; dominant/secondary can be
		// recomputed when the model mangles the labels.
		dominant, secondary = Rank(scores)
	} else if !okSecondary {
		_, secondary = Rank(scores)
	}

	return &Result{Scores: scores, Dominant: dominant, Secondary: secondary}, nil
}

// NormalizeText collapses whitespace and truncates to maxLen runes.
func NormalizeText(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxLen > 0 {
		runes := []rune(text)
		if len(runes) > maxLen {
			text = string(runes[:maxLen])
		}
	}
	return text
}

func imageContent(image []byte) []map[string]interface{} {
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	return []map[string]interface{}{
		{"type": "image_url", "image_url": map[string]string{"url": uri}},
	}
}
