package parser

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ArticleMeta is article metadata from OpenGraph, article:* meta tags and JSON-LD.
// It backs the per-field fallbacks of the news strategies.
type ArticleMeta struct {
	Title       string
	Description string
	Images      []string
	PublishedAt string
	Author      string
	VideoURL    string
}

// ExtractArticleMeta reads structured metadata from a parsed document.
// JSON-LD values take precedence over meta tags when both are present.
func ExtractArticleMeta(root *html.Node) ArticleMeta {
	doc := goquery.NewDocumentFromNode(root)
	var meta ArticleMeta

	og := extractPrefixed(doc, `meta[property^="og:"]`, "property", "og:")
	meta.Title = og["title"]
	meta.Description = og["description"]
	if img := og["image"]; img != "" {
		meta.Images = append(meta.Images, img)
	}
	meta.VideoURL = og["video"]

	article := extractPrefixed(doc, `meta[property^="article:"]`, "property", "article:")
	meta.PublishedAt = article["published_time"]
	meta.Author = article["author"]

	if meta.Author == "" {
		meta.Author = strings.TrimSpace(doc.Find(`meta[name="author"]`).AttrOr("content", ""))
	}
	if meta.Description == "" {
		meta.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}

	for _, obj := range extractJSONLD(doc) {
		if !isArticleType(obj["@type"]) {
			continue
		}
		if s := stringField(obj["headline"]); s != "" {
			meta.Title = s
		}
		if s := stringField(obj["datePublished"]); s != "" {
			meta.PublishedAt = s
		}
		if s := personName(obj["author"]); s != "" {
			meta.Author = s
		}
		if imgs := imageList(obj["image"]); len(imgs) > 0 {
			meta.Images = imgs
		}
		break
	}

	return meta
}

// extractPrefixed collects meta tag content keyed by attribute value minus prefix.
func extractPrefixed(doc *goquery.Document, selector, attrName, prefix string) map[string]string {
	data := make(map[string]string)
	doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		key, _ := sel.Attr(attrName)
		content, _ := sel.Attr("content")
		key = strings.TrimPrefix(key, prefix)
		content = strings.TrimSpace(content)
		if key != "" && content != "" {
			if _, seen := data[key]; !seen {
				data[key] = content
			}
		}
	})
	return data
}

// extractJSONLD parses <script type="application/ld+json"> elements, including
// arrays and @graph containers, into a flat list of objects.
func extractJSONLD(doc *goquery.Document) []map[string]any {
	var results []map[string]any

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			if graph, ok := data["@graph"].([]any); ok {
				for _, g := range graph {
					if obj, ok := g.(map[string]any); ok {
						results = append(results, obj)
					}
				}
				return
			}
			results = append(results, data)
			return
		}

		var dataArr []map[string]any
		if err := json.Unmarshal([]byte(raw), &dataArr); err == nil {
			results = append(results, dataArr...)
		}
	})

	return results
}

func isArticleType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.HasSuffix(t, "Article") || t == "Article"
	case []any:
		for _, x := range t {
			if isArticleType(x) {
				return true
			}
		}
	}
	return false
}

func stringField(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func personName(v any) string {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		return stringField(a["name"])
	case []any:
		var names []string
		for _, x := range a {
			if n := personName(x); n != "" {
				names = append(names, n)
			}
		}
		return strings.Join(names, ", ")
	}
	return ""
}

func imageList(v any) []string {
	switch img := v.(type) {
	case string:
		if img = strings.TrimSpace(img); img != "" {
			return []string{img}
		}
	case map[string]any:
		if u := stringField(img["url"]); u != "" {
			return []string{u}
		}
	case []any:
		var out []string
		for _, x := range img {
			out = append(out, imageList(x)...)
		}
		return out
	}
	return nil
}
