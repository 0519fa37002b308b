package coreio

import (
	"encoding/json"
	"fmt"

	"github.com/corelane/coreindexer/internal/signal"
)

// Encoding names how a core's raw block bytes are decoded before being
// handed to the batch function. All cores fed into one Indexer share a
// single Encoding.
type Encoding int

const (
	// Binary passes the block through unchanged.
	Binary Encoding = iota
	// UTF8 decodes the block as a string.
	UTF8
	// JSON unmarshals the block into a structured value.
	JSON
)

func (e Encoding) String() string {
	switch e {
	case Binary:
		return "binary"
	case UTF8:
		return "utf8"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// jsonByteLen is the fixed accounting cost assigned to a JSON-encoded
// block, since its marshaled size is not known without doing the work
// of marshaling it.
const jsonByteLen = 1024

// Decode converts raw block bytes into the value the Encoding names.
func Decode(enc Encoding, raw []byte) (any, error) {
	switch enc {
	case Binary:
		return raw, nil
	case UTF8:
		return string(raw), nil
	case JSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("coreio: decode json block: %w", err)
		}
		return v, nil
	default:
		return nil, signal.Unhandled("coreio.Encoding", enc)
	}
}

// ByteLen is the default byte-length heuristic used for buffering
// accounting: the raw byte length for Binary/UTF8 blocks, and the fixed
// constant jsonByteLen for JSON ones (whose marshaled size isn't known
// without doing the marshal).
func ByteLen(enc Encoding, raw []byte) int {
	switch enc {
	case Binary, UTF8:
		return len(raw)
	case JSON:
		return jsonByteLen
	default:
		return len(raw)
	}
}
