package store

import "encoding/json"

// Encoding is the tagged shape of a stored record body. The read path
// switches over it exhaustively instead of probing boolean flags.
type Encoding int

const (
	EncodingRaw Encoding = iota
	EncodingCompressed
	EncodingEncrypted
	EncodingCompressedEncrypted
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingCompressed:
		return "compressed"
	case EncodingEncrypted:
		return "encrypted"
	case EncodingCompressedEncrypted:
		return "compressed+encrypted"
	}
	return "unknown"
}

// storedRecord is the persisted wire shape. For a raw record Value
// carries the payload; for compressed/encrypted records Body carries
// the transformed value bytes and Value is omitted. Timestamp, Version
// and Expires always stay in the clear so eviction and expiry never
// need to decrypt.
type storedRecord struct {
	Value      json.RawMessage `json:"value,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Version    string          `json:"version"`
	Size       int             `json:"size,omitempty"`
	Checksum   string          `json:"checksum,omitempty"`
	Compressed bool            `json:"compressed,omitempty"`
	Encrypted  bool            `json:"encrypted,omitempty"`
	Expires    int64           `json:"expires,omitempty"`
	Body       []byte          `json:"body,omitempty"`
}

func (r *storedRecord) encoding() Encoding {
	switch {
	case r.Compressed && r.Encrypted:
		return EncodingCompressedEncrypted
	case r.Encrypted:
		return EncodingEncrypted
	case r.Compressed:
		return EncodingCompressed
	default:
		return EncodingRaw
	}
}

func (r *storedRecord) setEncoding(e Encoding) {
	r.Compressed = e == EncodingCompressed || e == EncodingCompressedEncrypted
	r.Encrypted = e == EncodingEncrypted || e == EncodingCompressedEncrypted
}

// Stats is the advisory aggregate record kept under the stats key. It
// is best-effort: a crash between a record write and its stats update
// leaves it slightly off, which is tolerated.
type Stats struct {
	TotalSize   int64 `json:"totalSize"`
	ItemCount   int   `json:"itemCount"`
	LastUpdated int64 `json:"lastUpdated"`
}
