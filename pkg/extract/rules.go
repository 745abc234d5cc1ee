package extract

import (
	"regexp"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	"github.com/reblisbiver/emotional-crawler/pkg/locator"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
)

// IDStrategy derives the external id from an attribute, optionally
// through a capture-group pattern. An empty Selector reads the card
// element itself.
type IDStrategy struct {
	Selector string
	Attr     string
	Pattern  *regexp.Regexp
}

// Rules parameterizes the extractor and the harvest loop for one
// platform. The control flow is shared; only the locator sets and
// policies differ per platform.
type Rules struct {
	Platform    models.Platform
	LoginMarker string
	// Referer is sent with image downloads; the CDNs reject bare
	// requests.
	Referer string
	// KeywordParam and PageParam are the listing URL's query parameter
	// names for the search keyword and page number.
	KeywordParam string
	PageParam    string

	CardStrategies  []locator.Strategy
	IDStrategies    []IDStrategy
	TextStrategies  []locator.Strategy
	ImageStrategies []locator.Strategy

	ImageHostPattern *regexp.Regexp
	AvatarPattern    *regexp.Regexp
	RewriteImageURL  func(string) string

	MinTextLength    int
	MaxImagesPerCard int
}

var (
	xhsExploreIDPattern = regexp.MustCompile(`/explore/([a-zA-Z0-9]+)`)
	xhsImageHostPattern = regexp.MustCompile(`xhscdn`)
	avatarPattern       = regexp.MustCompile(`avatar`)

	weiboImageHostPattern = regexp.MustCompile(`sinaimg\.cn`)
	weiboThumbPattern     = regexp.MustCompile(`(orj\d+|mw\d+|thumb\d+)`)
)

// XiaohongshuRules builds the rule set for the xiaohongshu explore feed.
func XiaohongshuRules(crawl config.CrawlConfig) *Rules {
	return &Rules{
		Platform:     models.PlatformXiaohongshu,
		LoginMarker:  "login",
		Referer:      "https://www.xiaohongshu.com/",
		KeywordParam: "keyword",
		PageParam:    "page",
		CardStrategies: []locator.Strategy{
			{Name: "note-section", Selector: "section.note-item"},
			{Name: "note-div", Selector: "div.note-item"},
			{Name: "explore-link", Selector: "a", Attr: "href", AttrContains: "/explore/"},
		},
		IDStrategies: []IDStrategy{
			{Attr: "href", Pattern: xhsExploreIDPattern},
			{Selector: "a", Attr: "href", Pattern: xhsExploreIDPattern},
		},
		TextStrategies: []locator.Strategy{
			{Name: "note-text", Selector: "div.note-text span"},
			{Name: "desc", Selector: "div.desc span"},
			{Name: "title", Selector: "div.title span"},
		},
		ImageStrategies: []locator.Strategy{
			{Name: "swiper", Selector: "div.swiper img", Attr: "src", AttrExcludes: "avatar"},
			{Name: "cover", Selector: "img.cover", Attr: "src", AttrExcludes: "avatar"},
			{Name: "any-img", Selector: "img", Attr: "src", AttrExcludes: "avatar"},
		},
		ImageHostPattern: xhsImageHostPattern,
		AvatarPattern:    avatarPattern,
		MinTextLength:    crawl.MinTextLength,
		MaxImagesPerCard: crawl.MaxImagesPerCard,
	}
}

// WeiboRules builds the rule set for the weibo search listing. Thumbnail
// URLs are rewritten to their large variants before download.
func WeiboRules(crawl config.CrawlConfig) *Rules {
	return &Rules{
		Platform:     models.PlatformWeibo,
		LoginMarker:  "login",
		Referer:      "https://weibo.com/",
		KeywordParam: "q",
		PageParam:    "page",
		CardStrategies: []locator.Strategy{
			{Name: "card-wrap", Selector: "div.card-wrap", Attr: "mid"},
			{Name: "card-data-mid", Selector: "div.card-wrap", Attr: "data-mid"},
			{Name: "feed-article", Selector: "article.Feed"},
		},
		IDStrategies: []IDStrategy{
			{Attr: "mid"},
			{Attr: "data-mid"},
		},
		TextStrategies: []locator.Strategy{
			{Name: "txt", Selector: "p.txt"},
			{Name: "detail-text", Selector: "div.detail_wbtext"},
		},
		ImageStrategies: []locator.Strategy{
			{Name: "media-pic", Selector: "div.media img", Attr: "src", AttrContains: "sinaimg.cn"},
			{Name: "any-sinaimg", Selector: "img", Attr: "src", AttrContains: "sinaimg.cn"},
		},
		ImageHostPattern: weiboImageHostPattern,
		AvatarPattern:    avatarPattern,
		RewriteImageURL: func(src string) string {
			return weiboThumbPattern.ReplaceAllString(src, "large")
		},
		MinTextLength:    crawl.MinTextLength,
		MaxImagesPerCard: crawl.MaxImagesPerCard,
	}
}

// RulesFor returns the rule set for a platform.
func RulesFor(platform models.Platform, crawl config.CrawlConfig) *Rules {
	switch platform {
	case models.PlatformWeibo:
		return WeiboRules(crawl)
	default:
		return XiaohongshuRules(crawl)
	}
}
