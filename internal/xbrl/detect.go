// Package xbrl extracts structured numeric facts from filing documents and
// deduplicates them before persistence.
package xbrl

import "bytes"

// Format identifies which XBRL variant a document carries.
type Format int

const (
	// FormatInline is inline XBRL: numeric facts embedded in HTML markup.
	FormatInline Format = iota
	// FormatXML is standalone XBRL instance XML.
	FormatXML
)

// Detect sniffs a small prefix of the document to decide the format.
func Detect(content []byte) Format {
	n := len(content)
	if n > 2048 {
		n = 2048
	}
	prefix := bytes.ToLower(content[:n])
	if bytes.Contains(prefix, []byte("<html")) ||
		bytes.Contains(prefix, []byte("xmlns:ix")) ||
		bytes.Contains(prefix, []byte("<ix:")) {
		return FormatInline
	}
	return FormatXML
}
