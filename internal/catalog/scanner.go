// Package catalog turns declarative product markup into Product records.
package catalog

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"cart-service/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Markup attributes
const (
	AttrMarker      = "data-pos-product"
	AttrID          = "data-product-id"
	AttrPrice       = "data-price"
	AttrName        = "data-name"
	AttrStock       = "data-stock"
	AttrCategory    = "data-category"
	AttrDescription = "data-description"
	AttrImage       = "data-image"
	AttrSKU         = "data-sku"
)

const (
	// DefaultStock stands in for "effectively unlimited"
	DefaultStock    = 999
	DefaultCategory = "general"
)

// Descriptor is the raw attribute set of one product-bearing element
type Descriptor map[string]string

// Result is the outcome of one scan
type Result struct {
	Products []models.Product
	Warnings []*models.ValidationError
}

// WarningStrings renders warnings for event payloads
func (r Result) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

// Scanner extracts products from HTML
type Scanner struct {
	logger *zap.Logger
}

// NewScanner creates a scanner
func NewScanner(logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{logger: logger}
}

// Scan reads every element carrying the product marker. Elements without an
// identifier or a numeric price are skipped, bad optional fields fall back to
// their defaults; both are reported as warnings. Only unreadable input is an
// error.
func (s *Scanner) Scan(r io.Reader) (Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("html.Parse: %w", err)
	}

	var descriptors []Descriptor
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasAttr(n, AttrMarker) {
			d := make(Descriptor, len(n.Attr)+1)
			for _, a := range n.Attr {
				d[a.Key] = a.Val
			}
			if strings.TrimSpace(d[AttrName]) == "" {
				d[textKey] = textContent(n)
			}
			descriptors = append(descriptors, d)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return s.FromDescriptors(descriptors), nil
}

// textKey carries the element text as a name fallback
const textKey = "#text"

// FromDescriptors builds products from already extracted attribute maps.
// Duplicate identifiers are replaced in place so ordering stays first-seen.
func (s *Scanner) FromDescriptors(descriptors []Descriptor) Result {
	var res Result
	index := make(map[string]int)

	for _, d := range descriptors {
		p, warn, err := parseDescriptor(d)
		if err != nil {
			s.logger.Warn("Skipping product element", zap.Error(err))
			res.Warnings = append(res.Warnings, err)
			continue
		}
		if warn != nil {
			s.logger.Warn("Using default for product field", zap.Error(warn))
			res.Warnings = append(res.Warnings, warn)
		}

		if i, ok := index[p.ID]; ok {
			res.Products[i] = p
			continue
		}
		index[p.ID] = len(res.Products)
		res.Products = append(res.Products, p)
	}

	return res
}

// parseDescriptor returns the product, a warning for an optional field that
// fell back to its default, or an error when the element must be skipped.
func parseDescriptor(d Descriptor) (models.Product, *models.ValidationError, *models.ValidationError) {
	id := strings.TrimSpace(d[AttrID])
	if id == "" {
		return models.Product{}, nil, &models.ValidationError{Field: AttrID, Reason: "missing identifier"}
	}

	rawPrice := strings.TrimSpace(d[AttrPrice])
	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return models.Product{}, nil, &models.ValidationError{ProductID: id, Field: AttrPrice, Value: rawPrice, Reason: "not a number"}
	}
	if price.IsNegative() {
		return models.Product{}, nil, &models.ValidationError{ProductID: id, Field: AttrPrice, Value: rawPrice, Reason: "negative price"}
	}

	var warn *models.ValidationError
	stock := DefaultStock
	if raw := strings.TrimSpace(d[AttrStock]); raw != "" {
		if n, err := strconv.Atoi(raw); err != nil {
			warn = &models.ValidationError{ProductID: id, Field: AttrStock, Value: raw, Reason: "not an integer, using default"}
		} else {
			stock = max(n, 0)
		}
	}

	name := strings.TrimSpace(d[AttrName])
	if name == "" {
		name = strings.TrimSpace(d[textKey])
	}
	if name == "" {
		name = "Product " + id
	}

	category := strings.TrimSpace(d[AttrCategory])
	if category == "" {
		category = DefaultCategory
	}

	return models.Product{
		ID:          id,
		Name:        name,
		Price:       price,
		Category:    category,
		Description: strings.TrimSpace(d[AttrDescription]),
		Image:       strings.TrimSpace(d[AttrImage]),
		SKU:         strings.TrimSpace(d[AttrSKU]),
		Stock:       stock,
	}, warn, nil
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// textContent collapses the visible text of n, skipping nested product
// elements and script/style bodies
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if c != n && hasAttr(c, AttrMarker) {
				return
			}
			if c.Data == "script" || c.Data == "style" || c.Data == "button" {
				return
			}
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			walk(gc)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
