package core

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// WrapForParsing prepares raw CSV bytes for encoding/csv without loading the
// file into memory. A leading BOM selects the encoding (a UTF-8 BOM is
// dropped, UTF-16 is decoded); without one the input is read as UTF-8.
//
// The UTF-8 decoder runs after the BOM step because the override passes
// BOM-marked UTF-8 through untouched. It replaces invalid sequences with
// U+FFFD and holds back characters split across reads until they complete.
func WrapForParsing(r io.Reader) io.Reader {
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(transform.Nop),
		unicode.UTF8.NewDecoder(),
	))
}
