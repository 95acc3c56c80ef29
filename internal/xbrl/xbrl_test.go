package xbrl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaops/edgar-ingest/internal/model"
)

const inlineDoc = `<html xmlns:ix="http://www.xbrl.org/2013/inlineXBRL">
<body>
<p>Revenue was
<ix:nonFraction name="us-gaap:Revenues" contextRef="FY2024" unitRef="usd" scale="6" decimals="-6">1,234</ix:nonFraction>
million this year.</p>
<p>Net loss of
<ix:nonFraction name="us-gaap:NetIncomeLoss" contextRef="FY2024" unitRef="usd" scale="6" sign="-" decimals="-6">500</ix:nonFraction>
million.</p>
<ix:nonFraction name="dei:EntityCommonStockSharesOutstanding" contextRef="Q4" unitRef="shares">15000000</ix:nonFraction>
<ix:nonFraction contextRef="orphan" unitRef="usd">42</ix:nonFraction>
<ix:nonFraction name="us-gaap:Broken" contextRef="FY2024" unitRef="usd">not a number</ix:nonFraction>
</body>
</html>`

func TestDetect(t *testing.T) {
	assert.Equal(t, FormatInline, Detect([]byte(inlineDoc)))
	assert.Equal(t, FormatInline, Detect([]byte(`<ix:header></ix:header>`)))
	assert.Equal(t, FormatXML, Detect([]byte(`<?xml version="1.0"?><xbrl xmlns="http://www.xbrl.org/2003/instance"></xbrl>`)))
}

func TestParseInline(t *testing.T) {
	facts, err := ParseInline([]byte(inlineDoc), "0000320193", "acc-1")
	require.NoError(t, err)
	require.Len(t, facts, 3, "nameless and malformed tags are skipped")

	rev := facts[0]
	assert.Equal(t, "0000320193", rev.CIK)
	assert.Equal(t, "us-gaap", rev.Taxonomy)
	assert.Equal(t, "Revenues", rev.Tag)
	assert.Equal(t, "1234000000", rev.Value)
	assert.Equal(t, "usd", rev.Unit)
	assert.Equal(t, "FY2024", rev.ContextRef)
	assert.Equal(t, "acc-1", rev.AccessionNumber)

	loss := facts[1]
	assert.Equal(t, "NetIncomeLoss", loss.Tag)
	assert.Equal(t, "-500000000", loss.Value, "sign applies before scale")

	shares := facts[2]
	assert.Equal(t, "dei", shares.Taxonomy)
	assert.Equal(t, "15000000", shares.Value)
}

func TestParse_XMLYieldsNoFacts(t *testing.T) {
	facts, err := Parse([]byte(`<?xml version="1.0"?><xbrl></xbrl>`), "1", "acc")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestDecodeValue(t *testing.T) {
	cases := []struct {
		text, scale, sign string
		want              string
	}{
		{"1,234", "", "", "1234"},
		{"500", "6", "-", "-500000000"},
		{"2.5", "3", "", "2500"},
		{" 7 ", "", "", "7"},
		{"0.05", "", "", "0.05"},
		{"3", "-2", "", "0.03"},
		// Past 53 bits of mantissa; must survive without float rounding.
		{"9,007,199,254,740,993", "", "", "9007199254740993"},
		{"123,456,789,012,345,678.9", "2", "", "12345678901234567890"},
	}
	for _, tc := range cases {
		got, err := decodeValue(tc.text, tc.scale, tc.sign)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := decodeValue("", "", "")
	assert.Error(t, err)
	_, err = decodeValue("abc", "", "")
	assert.Error(t, err)
}

func TestParseCompanyFacts_Flatten(t *testing.T) {
	doc := `{
		"cik": 320193,
		"entityName": "Apple Inc.",
		"facts": {
			"us-gaap": {
				"Revenues": {
					"label": "Revenues",
					"units": {
						"USD": [
							{"start": "2023-01-01", "end": "2023-12-31", "val": 100, "accn": "acc-1", "form": "10-K", "filed": "2024-02-01"},
							{"start": "2023-01-01", "end": "2023-12-31", "val": 105, "accn": "acc-2", "form": "10-K/A", "filed": "2024-06-01"}
						]
					}
				},
				"Assets": {
					"label": "Assets",
					"units": {
						"USD": [
							{"end": "2023-12-31", "val": 900, "accn": "acc-1", "form": "10-K", "filed": "2024-02-01"}
						]
					}
				}
			}
		}
	}`

	cf, err := ParseCompanyFacts(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", cf.EntityName)

	facts := Flatten(cf)
	require.Len(t, facts, 3)
	for _, f := range facts {
		assert.Equal(t, "0000320193", f.CIK, "CIK is zero-padded to ten digits")
	}

	var instant, duration int
	for _, f := range facts {
		if f.PeriodInstant != "" {
			instant++
			assert.Empty(t, f.PeriodStart)
			assert.Empty(t, f.PeriodEnd)
			assert.Equal(t, "2023-12-31", f.PeriodInstant)
		} else {
			duration++
			assert.Equal(t, "2023-01-01", f.PeriodStart)
		}
	}
	assert.Equal(t, 1, instant)
	assert.Equal(t, 2, duration)

	// The two Revenues rows collide on key; the gate keeps the amendment.
	kept := Gate(facts)
	require.Len(t, kept, 2)
	for _, f := range kept {
		if f.Tag == "Revenues" {
			assert.Equal(t, "105", f.Value)
			assert.Equal(t, "acc-2", f.AccessionNumber)
		}
	}
}

func TestGate_LatestFiledWins(t *testing.T) {
	facts := []model.Fact{
		{CIK: "1", Taxonomy: "us-gaap", Tag: "Revenues", PeriodEnd: "2023-12-31", Unit: "USD", Value: "100", FiledDate: "2024-02-01"},
		{CIK: "1", Taxonomy: "us-gaap", Tag: "Revenues", PeriodEnd: "2023-12-31", Unit: "USD", Value: "105", FiledDate: "2024-06-01"},
	}
	kept := Gate(facts)
	require.Len(t, kept, 1)
	assert.Equal(t, "105", kept[0].Value)
}

func TestGate_TiesKeepOriginalOrder(t *testing.T) {
	facts := []model.Fact{
		{CIK: "1", Tag: "A", Unit: "USD", Value: "first", FiledDate: "2024-01-01"},
		{CIK: "1", Tag: "A", Unit: "USD", Value: "second", FiledDate: "2024-01-01"},
	}
	kept := Gate(facts)
	require.Len(t, kept, 1)
	assert.Equal(t, "first", kept[0].Value)
}

func TestGate_EmptyFiledDateSortsLast(t *testing.T) {
	facts := []model.Fact{
		{CIK: "1", Tag: "A", Unit: "USD", Value: "undated", FiledDate: ""},
		{CIK: "1", Tag: "A", Unit: "USD", Value: "dated", FiledDate: "2020-01-01"},
	}
	kept := Gate(facts)
	require.Len(t, kept, 1)
	assert.Equal(t, "dated", kept[0].Value)
}

func TestGate_Idempotent(t *testing.T) {
	facts := []model.Fact{
		{CIK: "1", Tag: "A", Unit: "USD", Value: "1", FiledDate: "2024-01-01"},
		{CIK: "1", Tag: "A", Unit: "USD", Value: "2", FiledDate: "2024-03-01"},
		{CIK: "1", Tag: "B", Unit: "USD", Value: "3", FiledDate: "2024-01-01"},
	}
	once := Gate(facts)
	twice := Gate(once)
	assert.Equal(t, once, twice)
}

func TestGate_Empty(t *testing.T) {
	assert.Empty(t, Gate(nil))
}
