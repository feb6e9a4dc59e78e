package element

import (
	"bytes"
	"encoding/json"
)

// discriminator identifies a source element object within the surrounding
// document. Every node and way carries a "type" field.
var discriminator = []byte(`"type"`)

// ExtractNext returns the next complete top-level element from buf and the
// unconsumed remainder. ok is false when no complete element is currently
// available; the caller should append more data and retry.
//
// Objects whose "type" is neither node nor way, and fragments that fail to
// decode, are skipped rather than treated as fatal.
func ExtractNext(buf []byte) (elem Element, rest []byte, ok bool) {
	for {
		idx := bytes.Index(buf, discriminator)
		if idx < 0 {
			return Element{}, buf, false
		}

		open := openingBrace(buf, idx)
		if open < 0 {
			// Discriminator outside any object; drop it and rescan.
			buf = buf[idx+len(discriminator):]
			continue
		}

		end, complete := closingBrace(buf, open)
		if !complete {
			return Element{}, buf, false
		}

		var env envelope
		if err := json.Unmarshal(buf[open:end+1], &env); err != nil {
			// Malformed fragment: skip past the opening brace and retry on
			// the remainder.
			buf = buf[open+1:]
			continue
		}

		rest = buf[end+1:]
		switch env.Type {
		case "node":
			return Element{Node: &Node{ID: env.ID, Lat: env.Lat, Lon: env.Lon}}, rest, true
		case "way":
			return Element{Way: &Way{ID: env.ID, Nodes: env.Nodes, Tags: env.Tags}}, rest, true
		default:
			// Relations and count summaries are not routing input.
			buf = rest
		}
	}
}

// openingBrace walks backward from idx to the nearest unmatched '{'.
// Returns -1 when none exists before idx.
func openingBrace(buf []byte, idx int) int {
	depth := 0
	for i := idx - 1; i >= 0; i-- {
		switch buf[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// closingBrace scans forward from the '{' at open, tracking nesting depth.
// Braces inside string literals are ignored and backslash escapes are honored
// so an escaped quote does not end a string.
func closingBrace(buf []byte, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(buf); i++ {
		c := buf[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i, true
				}
			}
		}
	}

	return 0, false
}
