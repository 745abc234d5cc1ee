package emotion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
)

const validReply = `{"scores": {"joy": 0.7, "anger": 0.1, "sadness": 0.05, ` +
	`"fear": 0.02, "surprise": 0.08, "disgust": 0.01, "neutral": 0.04}, ` +
	`"dominant": "joy", "secondary": "anger"}`

// chatServer fakes the chat-completions backend, replying with the
// configured content per request in order. The last entry repeats.
func chatServer(t *testing.T, replies ...func(w http.ResponseWriter, n int)) (*httptest.Server, *int) {
	t.Helper()
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		idx := requests - 1
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		replies[idx](w, requests)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func replyContent(content string) func(w http.ResponseWriter, n int) {
	return func(w http.ResponseWriter, _ int) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func replyStatus(code int) func(w http.ResponseWriter, n int) {
	return func(w http.ResponseWriter, _ int) {
		w.WriteHeader(code)
	}
}

func testConfig(endpoint string) *config.EmotionConfig {
	return &config.EmotionConfig{
		Enabled:        true,
		Endpoint:       endpoint,
		Model:          "test-model",
		APIKey:         "test-key",
		MaxTextLength:  500,
		RequestTimeout: 5 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestClassifyTextSuccess(t *testing.T) {
	server, requests := chatServer(t, replyContent(validReply))
	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.ClassifyText(context.Background(), "今天真是太开心了，阳光明媚")
	require.NoError(t, err)

	assert.Equal(t, 1, *requests)
	assert.Equal(t, Joy, result.Dominant)
	assert.Equal(t, Anger, result.Secondary)
	assert.InDelta(t, 0.7, result.Scores[Joy], 1e-9)
	assert.True(t, result.Scores.Complete())
}

// Two malformed replies followed by a valid one: the item succeeds on
// the third attempt and both failures count as transient.
func TestClassifyTextRecoversFromMalformedReplies(t *testing.T) {
	server, requests := chatServer(t,
		replyContent("I cannot answer that"),
		replyContent("sorry, no JSON here either"),
		replyContent(validReply),
	)
	client := NewClient(testConfig(server.URL), nil, nil)

	var transients []error
	client.SetOnTransient(func(err error) { transients = append(transients, err) })

	result, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.NoError(t, err)

	assert.Equal(t, 3, *requests)
	assert.Len(t, transients, 2)
	for _, terr := range transients {
		assert.True(t, crawlerrors.Is(terr, crawlerrors.KindClassificationTransient))
	}
	assert.Equal(t, Joy, result.Dominant)
}

func TestClassifyTextExhaustsRetries(t *testing.T) {
	server, requests := chatServer(t, replyStatus(http.StatusInternalServerError))
	client := NewClient(testConfig(server.URL), nil, nil)

	_, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.Error(t, err)

	assert.Equal(t, 3, *requests, "attempt budget is exactly MaxAttempts")
	assert.True(t, crawlerrors.Is(err, crawlerrors.KindClassificationFailed),
		"exhausted transients escalate to a hard failure")
}

func TestClassifyTextNonRetryableStatus(t *testing.T) {
	server, requests := chatServer(t, replyStatus(http.StatusUnauthorized))
	client := NewClient(testConfig(server.URL), nil, nil)

	_, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.Error(t, err)

	assert.Equal(t, 1, *requests, "a 401 is not retried")
	assert.True(t, crawlerrors.Is(err, crawlerrors.KindClassificationFailed))
}

func TestClassifyTextRetriesOn429(t *testing.T) {
	server, requests := chatServer(t,
		replyStatus(http.StatusTooManyRequests),
		replyContent(validReply),
	)
	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.NoError(t, err)
	assert.Equal(t, 2, *requests)
	assert.Equal(t, Joy, result.Dominant)
}

// A reply that wraps its JSON in prose is recovered by extracting the
// object substring, without spending an extra attempt.
func TestClassifyTextRecoversWrappedJSON(t *testing.T) {
	wrapped := "Here is the analysis you asked for:\n```json\n" + validReply + "\n```"
	server, requests := chatServer(t, replyContent(wrapped))
	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.NoError(t, err)
	assert.Equal(t, 1, *requests)
	assert.Equal(t, Joy, result.Dominant)
}

func TestClassifyTextMissingCategoryIsTransient(t *testing.T) {
	incomplete := `{"scores": {"joy": 0.9}, "dominant": "joy", "secondary": "anger"}`
	server, requests := chatServer(t, replyContent(incomplete))
	client := NewClient(testConfig(server.URL), nil, nil)

	_, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.Error(t, err)
	assert.Equal(t, 3, *requests, "an incomplete score vector is retried")
}

// When the model mangles the dominant label, the scores win: the labels
// are recomputed instead of failing the item.
func TestClassifyTextRecomputesMangledLabels(t *testing.T) {
	mangled := `{"scores": {"joy": 0.1, "anger": 0.6, "sadness": 0.3, ` +
		`"fear": 0.0, "surprise": 0.0, "disgust": 0.0, "neutral": 0.0}, ` +
		`"dominant": "rage", "secondary": "grief"}`
	server, _ := chatServer(t, replyContent(mangled))
	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.ClassifyText(context.Background(), "some text worth scoring")
	require.NoError(t, err)
	assert.Equal(t, Anger, result.Dominant)
	assert.Equal(t, Sadness, result.Secondary)
}

func TestClassifyTextEmptyText(t *testing.T) {
	client := NewClient(testConfig("http://unused"), nil, nil)

	_, err := client.ClassifyText(context.Background(), "   \n\t ")
	require.Error(t, err)
	assert.True(t, crawlerrors.Is(err, crawlerrors.KindClassificationFailed))
}

func TestDetectSubject(t *testing.T) {
	server, _ := chatServer(t, replyContent(`{"subject": true}`))
	client := NewClient(testConfig(server.URL), nil, nil)

	detected, err := client.DetectSubject(context.Background(), []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.True(t, detected)
}

func TestDetectSubjectNegative(t *testing.T) {
	server, _ := chatServer(t, replyContent(`The answer is {"subject": false}`))
	client := NewClient(testConfig(server.URL), nil, nil)

	detected, err := client.DetectSubject(context.Background(), []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.False(t, detected)
}

func TestClassifyImage(t *testing.T) {
	server, _ := chatServer(t, replyContent(validReply))
	client := NewClient(testConfig(server.URL), nil, nil)

	result, err := client.ClassifyImage(context.Background(), []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.Equal(t, Joy, result.Dominant)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxLen   int
		expected string
	}{
		{"collapses whitespace", "a  b\n\nc\td", 100, "a b c d"},
		{"truncates by runes", "你好世界你好", 4, "你好世界"},
		{"unlimited when zero", "hello world", 0, "hello world"},
		{"trims edges", "  hi  ", 100, "hi"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, NormalizeText(test.in, test.maxLen))
		})
	}
}
