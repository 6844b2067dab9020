package framestore

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/san-kum/rep-integrity/server/models"
)

// Format is the wire encoding of a capture bundle.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// FormatFromContentType maps an HTTP content type to a capture format.
func FormatFromContentType(contentType string) (Format, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "application/json", "":
		return FormatJSON, nil
	case "application/msgpack", "application/x-msgpack", "application/vnd.msgpack":
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("unsupported capture content type %q", contentType)
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".msgpack", ".mpk":
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("unsupported capture file %q", path)
}

// Decode reads a capture bundle. Both encodings use the JSON field names.
func Decode(r io.Reader, format Format) (*models.Capture, error) {
	var c models.Capture
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&c); err != nil {
			return nil, fmt.Errorf("failed to decode json capture: %w", err)
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(r)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("failed to decode msgpack capture: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown capture format %q", format)
	}
	return &c, nil
}

// Encode writes a capture bundle.
func Encode(w io.Writer, c *models.Capture, format Format) error {
	switch format {
	case FormatJSON:
		if err := json.NewEncoder(w).Encode(c); err != nil {
			return fmt.Errorf("failed to encode json capture: %w", err)
		}
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to encode msgpack capture: %w", err)
		}
	default:
		return fmt.Errorf("unknown capture format %q", format)
	}
	return nil
}
