package understanding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// ExtractJSON isolates the JSON value inside model output. It strips markdown
// fences and slices from the first opening bracket to the matching last closing one.
func ExtractJSON(text string) (string, error) {
	return ExtractJSONAs(text, 0)
}

// ExtractJSONAs is ExtractJSON for a known shape: open is '{' or '[' and wins over
// an earlier bracket of the other kind, so prose like "Found [2] items: {...}"
// still yields the object. Zero or an absent bracket falls back to the first seen.
func ExtractJSONAs(text string, open byte) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	switch {
	case open == '{' && objStart >= 0:
		arrStart = -1
	case open == '[' && arrStart >= 0:
		objStart = -1
	}

	var closing byte
	var start int
	switch {
	case objStart < 0 && arrStart < 0:
		return "", fmt.Errorf("%w: no JSON value found", ErrInvalidJSON)
	case arrStart < 0 || (objStart >= 0 && objStart < arrStart):
		open, closing, start = '{', '}', objStart
	default:
		open, closing, start = '[', ']', arrStart
	}
	end := strings.LastIndexByte(s, closing)
	if end <= start {
		return "", fmt.Errorf("%w: unterminated %c", ErrInvalidJSON, open)
	}
	return s[start : end+1], nil
}

// openingFor returns the bracket a JSON value decoded into out starts with.
func openingFor(out any) byte {
	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return 0
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map:
		return '{'
	case reflect.Slice, reflect.Array:
		return '['
	default:
		return 0
	}
}

// DecodeStrict extracts the JSON value shaped like out from text and decodes it.
// Unknown fields and trailing data are rejected.
func DecodeStrict(text string, out any) error {
	raw, err := ExtractJSONAs(text, openingFor(out))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON value", ErrInvalidJSON)
	}
	return nil
}
