// Package extract pulls page text out of uploaded files.
package extract

// Page is one page of extracted text.
type Page struct {
	Number int
	Text   string
}

// Extractor turns a raw file payload into ordered pages of text.
type Extractor interface {
	Pages(data []byte) ([]Page, error)
}
