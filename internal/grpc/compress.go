package grpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor applies symmetric compression to packet payloads carried inside RPC messages.
type Compressor interface {
	//1.- Name returns the codec identifier advertised in RPC payloads.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// EncodingIdentity marks an uncompressed payload.
const EncodingIdentity = "identity"

// MaxPacketBytes bounds the decompressed packet size accepted over RPC.
const MaxPacketBytes = 64 << 20

// ErrPayloadTooLarge reports a payload that inflates past the compressor limit.
var ErrPayloadTooLarge = errors.New("decompressed payload too large")

func packetLimit(limit int) int {
	if limit <= 0 {
		return MaxPacketBytes
	}
	return limit
}

// gzipCompressor inflates at most limit bytes.
type gzipCompressor struct {
	limit int
}

// NewGZIPCompressor constructs a Compressor backed by gzip. A non-positive limit means
// MaxPacketBytes.
func NewGZIPCompressor(limit int) Compressor {
	return gzipCompressor{limit: packetLimit(limit)}
}

// Name reports the identifier used for gzip encoded payloads.
func (gzipCompressor) Name() string { return "gzip" }

// Compress encodes data using the gzip format.
func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes gzip-encoded data and returns the raw payload.
func (c gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	//1.- One byte past the limit is enough to know the payload is oversized.
	out, err := io.ReadAll(io.LimitReader(reader, int64(c.limit)+1))
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	if len(out) > c.limit {
		return nil, fmt.Errorf("gzip decompress: %w (limit %d bytes)", ErrPayloadTooLarge, c.limit)
	}
	return out, nil
}

// zstdCompressor uses stateless EncodeAll/DecodeAll calls on shared coders.
type zstdCompressor struct {
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	limit int
}

// NewZstdCompressor constructs a Compressor backed by zstd whose decoder refuses to allocate past
// limit. A non-positive limit means MaxPacketBytes.
func NewZstdCompressor(limit int) (Compressor, error) {
	limit = packetLimit(limit)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec, limit: limit}, nil
}

func (*zstdCompressor) Name() string { return "zstd" }

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd decompress: empty payload")
	}
	out, err := c.dec.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, fmt.Errorf("zstd decompress: %w (limit %d bytes)", ErrPayloadTooLarge, c.limit)
	}
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// snappyCompressor uses the block format; payloads are whole packets, never streams.
type snappyCompressor struct {
	limit int
}

// NewSnappyCompressor constructs a Compressor backed by snappy. A non-positive limit means
// MaxPacketBytes.
func NewSnappyCompressor(limit int) Compressor { return snappyCompressor{limit: packetLimit(limit)} }

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	//1.- The block header states the decoded length before anything is allocated.
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	if n > c.limit {
		return nil, fmt.Errorf("snappy decompress: %w (limit %d bytes)", ErrPayloadTooLarge, c.limit)
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}

// Compressors indexes payload compressors by name.
type Compressors map[string]Compressor

// DefaultCompressors returns gzip, zstd and snappy bounded by MaxPacketBytes.
func DefaultCompressors() (Compressors, error) {
	return NewCompressors(MaxPacketBytes)
}

// NewCompressors returns gzip, zstd and snappy that refuse to inflate past limit bytes.
func NewCompressors(limit int) (Compressors, error) {
	zstdCompressor, err := NewZstdCompressor(limit)
	if err != nil {
		return nil, err
	}
	set := Compressors{}
	for _, c := range []Compressor{NewGZIPCompressor(limit), zstdCompressor, NewSnappyCompressor(limit)} {
		set[c.Name()] = c
	}
	return set, nil
}

// Decode restores a payload tagged with encoding. An empty or identity encoding passes data through.
func (c Compressors) Decode(encoding string, data []byte) ([]byte, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" || name == EncodingIdentity {
		return data, nil
	}
	compressor, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q (known: %s)", encoding, strings.Join(c.Names(), ", "))
	}
	return compressor.Decompress(data)
}

// Names lists the registered encodings alphabetically.
func (c Compressors) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
