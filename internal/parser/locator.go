package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Locator finds nodes beneath a context node.
type Locator interface {
	Find(n *html.Node) []*html.Node
	String() string
}

type cssLocator struct {
	selector string
}

// CSS returns a goquery-backed locator. Matches are descendants of the context node.
func CSS(selector string) Locator {
	return cssLocator{selector: selector}
}

func (l cssLocator) Find(n *html.Node) []*html.Node {
	return goquery.NewDocumentFromNode(n).Find(l.selector).Nodes
}

func (l cssLocator) String() string { return "css:" + l.selector }

type xpathLocator struct {
	raw  string
	expr *xpath.Expr
}

// XPath returns an htmlquery-backed locator. It panics on an invalid
// expression, so strategies fail at init rather than at scrape time.
func XPath(expr string) Locator {
	return xpathLocator{raw: expr, expr: xpath.MustCompile(expr)}
}

func (l xpathLocator) Find(n *html.Node) []*html.Node {
	return htmlquery.QuerySelectorAll(n, l.expr)
}

func (l xpathLocator) String() string { return "xpath:" + l.raw }

// Chain is an ordered list of locators for one field.
type Chain []Locator

// First returns the matches of the first locator that yields any.
func (c Chain) First(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	for _, l := range c {
		if nodes := l.Find(n); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

// FirstNode returns the first match of the chain, or nil.
func (c Chain) FirstNode(n *html.Node) *html.Node {
	if nodes := c.First(n); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

// nodeText returns the trimmed, whitespace-collapsed text of n.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	return strings.Join(strings.Fields(htmlquery.InnerText(n)), " ")
}

// textNodes returns the trimmed non-empty text nodes under n in document order.
func textNodes(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			if s := strings.Join(strings.Fields(cur.Data), " "); s != "" {
				out = append(out, s)
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

func attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.SelectAttr(n, name))
}

// elementChildren returns the element children of n in order.
func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}
