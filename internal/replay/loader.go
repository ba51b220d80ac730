package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// LoadPacket reads a packet from an archive directory, a `.json.zst`, a `.json.gz` or a plain
// `.json` file, and validates it.
func LoadPacket(path string) (*Packet, error) {
	raw, err := ReadPacketBytes(path)
	if err != nil {
		return nil, err
	}
	return DecodePacket(raw)
}

// ReadPacketBytes returns the uncompressed packet JSON stored at path.
func ReadPacketBytes(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("packet path must be provided")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		path = filepath.Join(path, PacketFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	//1.- Pick the decompressor from the extension.
	switch {
	case strings.HasSuffix(path, ".zst"):
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrPacketFraming, err)
		}
		return out, nil
	case strings.HasSuffix(path, ".gz"):
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrPacketFraming, err)
		}
		defer reader.Close()
		return io.ReadAll(reader)
	default:
		return data, nil
	}
}

// InputLog is the op stream of an archive, read without decoding the packet.
type InputLog struct {
	frames []InputFrame
}

// LoadInputs reads the snappy-framed JSONL op stream of an archive directory.
func LoadInputs(dir string) (*InputLog, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory must be provided")
	}
	file, err := os.Open(filepath.Join(dir, InputsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	log := &InputLog{}
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame InputFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			return nil, fmt.Errorf("%w: input line %d: %v", ErrPacketFraming, len(log.frames)+1, err)
		}
		//1.- Frames must arrive in strictly ascending step order, as in the packet.
		if n := len(log.frames); n > 0 && frame.Step <= log.frames[n-1].Step {
			return nil, framing("input stream not ascending at step %d", frame.Step)
		}
		log.frames = append(log.frames, frame)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return log, nil
}

// Replay iterates over the frames in step order.
func (l *InputLog) Replay(apply func(InputFrame) error) error {
	if l == nil {
		return fmt.Errorf("input log not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, frame := range l.frames {
		if err := apply(frame); err != nil {
			return err
		}
	}
	return nil
}

// Frames exposes a copy of the frames.
func (l *InputLog) Frames() []InputFrame {
	if l == nil {
		return nil
	}
	out := make([]InputFrame, len(l.frames))
	copy(out, l.frames)
	return out
}
