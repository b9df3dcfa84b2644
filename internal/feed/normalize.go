package feed

import (
	"strconv"
	"strings"
)

// Source header names as published in the feed.
const (
	HeaderArticleID    = "Artnr"
	HeaderCategory     = "Varugrupp"
	HeaderName         = "Produktnamn"
	HeaderManufacturer = "Tillverkare"
	HeaderModel        = "Modell"
	HeaderEAN          = "EAN"
	HeaderStock        = "Lagersaldo"
	HeaderPrice        = "Pris"
	HeaderCampaign     = "Kampanjvara(1/0)"
	HeaderShipping     = "Frakt"
	HeaderURL          = "URL"
	HeaderImageURL     = "BildURL"
	HeaderDescription  = "Beskrivning"
)

// Record is one normalized product row. Optional numbers are nil when the
// source value is absent or unparsable.
type Record struct {
	ArticleID       string   `json:"article_id"`
	Category        string   `json:"category"`
	Name            string   `json:"name"`
	Manufacturer    string   `json:"manufacturer"`
	Model           string   `json:"model"`
	EAN             string   `json:"ean"`
	Stock           *int     `json:"stock"`
	Price           *float64 `json:"price"`
	IsCampaign      *int     `json:"is_campaign"`
	Shipping        *float64 `json:"shipping"`
	URL             string   `json:"url"`
	ImageURL        string   `json:"image_url"`
	DescriptionHTML string   `json:"description_html"`

	// Raw is the source row, kept for prompts and audits.
	Raw RawRow `json:"raw"`
}

// Normalize maps a raw row onto the canonical record shape.
func Normalize(raw RawRow) Record {
	return Record{
		ArticleID:       raw[HeaderArticleID],
		Category:        raw[HeaderCategory],
		Name:            raw[HeaderName],
		Manufacturer:    raw[HeaderManufacturer],
		Model:           raw[HeaderModel],
		EAN:             raw[HeaderEAN],
		Stock:           ToInt(raw[HeaderStock]),
		Price:           ToFloat(raw[HeaderPrice]),
		IsCampaign:      ToInt(raw[HeaderCampaign]),
		Shipping:        ToFloat(raw[HeaderShipping]),
		URL:             raw[HeaderURL],
		ImageURL:        raw[HeaderImageURL],
		DescriptionHTML: raw[HeaderDescription],
		Raw:             raw,
	}
}

// NormalizeAll normalizes rows preserving their order.
func NormalizeAll(rows []RawRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Normalize(r))
	}
	return out
}

var floatCleaner = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".")

// ToFloat parses a locale formatted number such as "1 234,50".
func ToFloat(s string) *float64 {
	v, err := strconv.ParseFloat(floatCleaner.Replace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

// ToInt parses the leading token of an integer field such as "12,st".
func ToInt(s string) *int {
	head, _, _ := strings.Cut(s, ",")
	v, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return nil
	}
	return &v
}
