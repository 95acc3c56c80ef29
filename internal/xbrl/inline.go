package xbrl

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/model"
)

// Parse extracts numeric facts from a filing document, detecting the format
// first. Standalone XBRL XML instances are not parsed yet; they yield no
// facts rather than an error so the pipeline can still mark the filing
// processed.
func Parse(content []byte, cik, accession string) ([]model.Fact, error) {
	switch Detect(content) {
	case FormatInline:
		return ParseInline(content, cik, accession)
	default:
		zap.L().Info("standalone XBRL XML not supported, skipping",
			zap.String("accession", accession))
		return nil, nil
	}
}

// ParseInline extracts ix:nonFraction numeric facts from an inline XBRL
// document. Malformed tags are skipped and logged, never fatal.
func ParseInline(content []byte, cik, accession string) ([]model.Fact, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, eris.Wrapf(err, "xbrl: parse inline document %s", accession)
	}

	var facts []model.Fact
	skipped := 0

	doc.Find(`ix\:nonfraction`).Each(func(_ int, tag *goquery.Selection) {
		name, ok := tag.Attr("name")
		if !ok || name == "" {
			skipped++
			return
		}

		taxonomy, concept := splitConcept(name)

		value, err := decodeValue(
			tag.Text(),
			tag.AttrOr("scale", ""),
			tag.AttrOr("sign", ""),
		)
		if err != nil {
			skipped++
			zap.L().Debug("skip malformed fact tag",
				zap.String("accession", accession),
				zap.String("concept", name),
				zap.Error(err),
			)
			return
		}

		facts = append(facts, model.Fact{
			CIK:             cik,
			Taxonomy:        taxonomy,
			Tag:             concept,
			Unit:            tag.AttrOr("unitref", ""),
			Value:           value,
			AccessionNumber: accession,
			ContextRef:      tag.AttrOr("contextref", ""),
		})
	})

	if skipped > 0 {
		zap.L().Debug("skipped malformed fact tags",
			zap.String("accession", accession),
			zap.Int("count", skipped),
		)
	}

	return facts, nil
}

// splitConcept splits a qualified concept name like "us-gaap:Revenues" into
// taxonomy and tag. An unqualified name gets an empty taxonomy.
func splitConcept(name string) (taxonomy, tag string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// decodeValue applies sign and decimal scale to a fact tag's body text.
// A tag with scale="6", sign="-" and body "500" decodes to "-500000000".
// The arithmetic is done on the digit string itself, never through a float,
// so values past 53 bits (large share counts, long-scale monetary amounts)
// come out exact.
func decodeValue(text, scale, sign string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if cleaned == "" {
		return "", eris.New("xbrl: empty fact value")
	}

	neg := false
	switch {
	case strings.HasPrefix(cleaned, "-"):
		neg = true
		cleaned = cleaned[1:]
	case strings.HasPrefix(cleaned, "+"):
		cleaned = cleaned[1:]
	}

	intPart, fracPart, _ := strings.Cut(cleaned, ".")
	if intPart == "" && fracPart == "" {
		return "", eris.Errorf("xbrl: parse value %q", text)
	}
	for _, part := range [2]string{intPart, fracPart} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return "", eris.Errorf("xbrl: parse value %q", text)
			}
		}
	}

	exp := 0
	if scale != "" {
		var err error
		exp, err = strconv.Atoi(scale)
		if err != nil {
			return "", eris.Wrapf(err, "xbrl: parse scale %q", scale)
		}
	}

	// Shift the decimal point by the scale exponent.
	digits := intPart + fracPart
	point := len(intPart) + exp
	switch {
	case point >= len(digits):
		intPart = digits + strings.Repeat("0", point-len(digits))
		fracPart = ""
	case point <= 0:
		intPart = ""
		fracPart = strings.Repeat("0", -point) + digits
	default:
		intPart, fracPart = digits[:point], digits[point:]
	}

	out := strings.TrimLeft(intPart, "0")
	if out == "" {
		out = "0"
	}
	if frac := strings.TrimRight(fracPart, "0"); frac != "" {
		out += "." + frac
	}

	if sign == "-" {
		neg = !neg
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out, nil
}
