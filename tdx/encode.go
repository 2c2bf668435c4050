package tdx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeQuote returns the quote as a JSON string literal of its standard base64 encoding.
func EncodeQuote(quote []byte) (string, error) {
	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(quote))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return string(encoded), nil
}
