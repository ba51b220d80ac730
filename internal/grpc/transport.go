package grpc

import (
	"errors"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// zstdWire is a transport compressor negotiated through grpc-encoding.
type zstdWire struct{}

func (zstdWire) Name() string { return "zstd" }

func (zstdWire) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

func (zstdWire) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(MaxPacketBytes))
	if err != nil {
		return nil, err
	}
	return &closingReader{dec: dec}, nil
}

// closingReader releases the zstd decoder once the message is fully read.
type closingReader struct {
	dec *zstd.Decoder
}

func (c *closingReader) Read(p []byte) (int, error) {
	if c.dec == nil {
		return 0, io.EOF
	}
	n, err := c.dec.Read(p)
	if errors.Is(err, io.EOF) {
		c.dec.Close()
		c.dec = nil
	}
	return n, err
}

// snappyWire is the framed snappy transport compressor.
type snappyWire struct{}

func (snappyWire) Name() string { return "snappy" }

func (snappyWire) Compress(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyWire) Decompress(r io.Reader) (io.Reader, error) {
	return snappy.NewReader(r), nil
}

func init() {
	encoding.RegisterCompressor(zstdWire{})
	encoding.RegisterCompressor(snappyWire{})
}
