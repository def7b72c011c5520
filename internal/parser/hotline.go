package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

const (
	// HotlineBaseURL is the host relative offer links are resolved against.
	HotlineBaseURL = "https://hotline.ua"

	// MaxOffers caps the offers taken from one product page.
	MaxOffers = 20
)

// Selector chains for the hotline.ua product offers list. CSS first, then
// structural or attribute-substring XPath.
var (
	offerContainer = Chain{
		XPath(`//div[@id='productOffersListContainer']/div[2]`),
		CSS(`#productOffersListContainer .list`),
	}
	offerPrice = Chain{
		CSS(`span.price__value`),
		XPath(`.//span[contains(@class, "_2FyrEE_quFxElmhGj53m")]`),
		XPath(`.//*[contains(@class, "price")]`),
		XPath(`.//*[contains(text(), "₴")]`),
	}
	offerShop = Chain{
		CSS(`a.shop__title`),
		XPath(`.//a[contains(@href, "/go/price/")]`),
	}
	offerLink = Chain{
		CSS(`a.shop__title[href]`),
		XPath(`.//a[contains(@href, "/go/price/")]`),
	}
	offerTitle = Chain{
		CSS(`div.html-clamp`),
		XPath(`.//div[contains(@class, "html-clamp")]`),
	}
)

// HotlineStrategy extracts offers from hotline.ua product pages.
type HotlineStrategy struct {
	resolver    Resolver
	concurrency int
	logger      *slog.Logger
}

// NewHotlineStrategy creates the offer strategy. resolver may be nil, in
// which case original_url is the offer link itself.
func NewHotlineStrategy(resolver Resolver, concurrency int, logger *slog.Logger) *HotlineStrategy {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HotlineStrategy{
		resolver:    resolver,
		concurrency: concurrency,
		logger:      logger.With("component", "hotline_strategy"),
	}
}

func (s *HotlineStrategy) Source() Source { return SourceHotline }

// ExtractOffers implements OfferStrategy.
func (s *HotlineStrategy) ExtractOffers(ctx context.Context, pageURL, markup string) ([]model.Offer, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, &types.ParsingError{URL: pageURL, Source: s.Source().String(), Err: err}
	}

	container := offerContainer.FirstNode(doc)
	if container == nil {
		return nil, &types.ParsingError{URL: pageURL, Source: s.Source().String(), Err: types.ErrContainerNotFound}
	}

	var offers []model.Offer
	skipped := 0
	for _, node := range elementChildren(container) {
		if len(offers) >= MaxOffers {
			break
		}
		offer, ok := s.extractOffer(node)
		if !ok {
			skipped++
			continue
		}
		offers = append(offers, offer)
	}

	s.resolveOriginals(ctx, offers)

	s.logger.Debug("offers extracted", "url", pageURL, "offers", len(offers), "skipped", skipped)
	return offers, nil
}

// extractOffer reads one offer node. ok is false when the price, shop, or
// link element is missing.
func (s *HotlineStrategy) extractOffer(node *html.Node) (model.Offer, bool) {
	priceNode := offerPrice.FirstNode(node)
	shopNode := offerShop.FirstNode(node)
	linkNode := offerLink.FirstNode(node)
	if priceNode == nil || shopNode == nil || linkNode == nil {
		return model.Offer{}, false
	}

	href := attr(linkNode, "href")
	if href == "" {
		return model.Offer{}, false
	}

	price, readable := CleanPrice(nodeText(priceNode))
	title := AssembleTitle(textNodes(offerTitle.FirstNode(node)))
	link := types.ResolveURL(HotlineBaseURL, href)

	return model.Offer{
		URL:             link,
		OriginalURL:     link,
		Title:           title,
		Shop:            nodeText(shopNode),
		Price:           price,
		IsUsed:          IsUsed(title),
		PriceUnreadable: !readable,
	}, true
}

// resolveOriginals replaces each OriginalURL with the redirect target of the
// offer link. A failed resolution keeps the un-redirected link.
func (s *HotlineStrategy) resolveOriginals(ctx context.Context, offers []model.Offer) {
	if s.resolver == nil || len(offers) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range offers {
		g.Go(func() error {
			final, err := s.resolver.Resolve(ctx, offers[i].URL)
			if err != nil {
				s.logger.Debug("redirect not resolved, keeping offer link", "url", offers[i].URL, "error", err)
				return nil
			}
			offers[i].OriginalURL = final
			return nil
		})
	}
	_ = g.Wait()
}
