package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

var (
	errNoTitle       = errors.New("article has no title")
	errNoPublishTime = errors.New("article has no parseable publication time")
)

// timeFallback is tried after the site chain and structured metadata.
var timeFallback = Chain{CSS(`time[datetime]`)}

// newsLayout holds the selector chains of one news site. Item chains are
// evaluated relative to a listing item, article chains relative to the page.
type newsLayout struct {
	source Source

	listContainer Chain
	listItem      Chain
	itemLink      Chain
	itemTitle     Chain
	itemTime      Chain

	articleTitle    Chain
	articleBody     Chain
	articleImages   Chain
	articleTime     Chain
	articleAuthor   Chain
	articleViews    Chain
	articleComments Chain
	articleLikes    Chain
	articleDislikes Chain
	articleVideo    Chain
}

// newsStrategy implements NewsStrategy for any site described by a newsLayout.
type newsStrategy struct {
	layout newsLayout
	now    func() time.Time
}

func newNewsStrategy(layout newsLayout) *newsStrategy {
	return &newsStrategy{layout: layout, now: time.Now}
}

func (s *newsStrategy) Source() Source { return s.layout.source }

func (s *newsStrategy) parsingError(rawURL string, err error) error {
	return &types.ParsingError{URL: rawURL, Source: s.layout.source.String(), Err: err}
}

// ExtractListing implements NewsStrategy.
func (s *newsStrategy) ExtractListing(markup string, base *url.URL) ([]ArticleRef, error) {
	baseURL := ""
	if base != nil {
		baseURL = base.String()
	}

	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, s.parsingError(baseURL, err)
	}

	container := s.layout.listContainer.FirstNode(doc)
	if container == nil {
		return nil, s.parsingError(baseURL, types.ErrContainerNotFound)
	}

	now := s.now()
	var refs []ArticleRef
	for _, item := range s.layout.listItem.First(container) {
		link := s.layout.itemLink.FirstNode(item)
		href := attr(link, "href")
		if href == "" {
			continue
		}
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			continue
		}

		ref := ArticleRef{URL: types.ResolveURL(baseURL, href), Title: nodeText(s.layout.itemTitle.FirstNode(item))}
		if ref.Title == "" {
			ref.Title = nodeText(link)
		}
		if t, ok := parseTimeNode(s.layout.itemTime.FirstNode(item), now); ok {
			ref.PublishedAt = t
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ExtractArticle implements NewsStrategy.
func (s *newsStrategy) ExtractArticle(markup string, ref ArticleRef) (*model.ArticleData, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, s.parsingError(ref.URL, err)
	}
	meta := ExtractArticleMeta(doc)
	now := s.now()

	data := &model.ArticleData{
		Title:     nodeText(s.layout.articleTitle.FirstNode(doc)),
		ImageURLs: []string{},
		Comments:  []string{},
	}
	if data.Title == "" {
		data.Title = meta.Title
	}
	if data.Title == "" {
		data.Title = ref.Title
	}
	if data.Title == "" {
		return nil, s.parsingError(ref.URL, errNoTitle)
	}

	published, ok := parseTimeNode(s.layout.articleTime.FirstNode(doc), now)
	if !ok && meta.PublishedAt != "" {
		published, ok = ParseNewsTime(meta.PublishedAt, now)
	}
	if !ok {
		published, ok = parseTimeNode(timeFallback.FirstNode(doc), now)
	}
	if !ok && !ref.PublishedAt.IsZero() {
		published, ok = ref.PublishedAt, true
	}
	if !ok {
		return nil, s.parsingError(ref.URL, errNoPublishTime)
	}
	data.PublishedAt = published.UTC()

	var paragraphs []string
	for _, p := range s.layout.articleBody.First(doc) {
		if text := nodeText(p); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	data.ContentBody = strings.Join(paragraphs, "\n\n")
	if data.ContentBody == "" {
		data.ContentBody = meta.Description
	}

	seen := make(map[string]bool)
	for _, img := range s.layout.articleImages.First(doc) {
		src := attr(img, "src")
		if src == "" {
			src = attr(img, "data-src")
		}
		addImage(data, seen, ref.URL, src)
	}
	if len(data.ImageURLs) == 0 {
		for _, src := range meta.Images {
			addImage(data, seen, ref.URL, src)
		}
	}

	author := nodeText(s.layout.articleAuthor.FirstNode(doc))
	if author == "" {
		author = meta.Author
	}
	data.Author = optionalString(author)

	data.Views = parseCount(nodeText(s.layout.articleViews.FirstNode(doc)))
	data.Likes = parseCount(nodeText(s.layout.articleLikes.FirstNode(doc)))
	data.Dislikes = parseCount(nodeText(s.layout.articleDislikes.FirstNode(doc)))

	for _, c := range s.layout.articleComments.First(doc) {
		if text := nodeText(c); text != "" {
			data.Comments = append(data.Comments, text)
		}
	}

	video := attr(s.layout.articleVideo.FirstNode(doc), "src")
	if video == "" {
		video = meta.VideoURL
	}
	if video != "" {
		data.VideoURL = optionalString(types.ResolveURL(ref.URL, video))
	}

	return data, nil
}

// parseTimeNode reads a datetime attribute first, then the node text.
func parseTimeNode(n *html.Node, now time.Time) (time.Time, bool) {
	if n == nil {
		return time.Time{}, false
	}
	for _, name := range []string{"datetime", "content", "data-time"} {
		if v := attr(n, name); v != "" {
			if t, ok := ParseNewsTime(v, now); ok {
				return t, true
			}
		}
	}
	return ParseNewsTime(nodeText(n), now)
}

func addImage(data *model.ArticleData, seen map[string]bool, base, src string) {
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	src = types.ResolveURL(base, src)
	if !seen[src] {
		seen[src] = true
		data.ImageURLs = append(data.ImageURLs, src)
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (s *newsStrategy) String() string {
	return fmt.Sprintf("news(%s)", s.layout.source)
}
