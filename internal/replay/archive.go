package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var archiveSessionCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	// PacketFile holds the zstd-compressed packet JSON inside an archive directory.
	PacketFile = "packet.json.zst"
	// InputsFile holds the snappy-framed JSONL op stream inside an archive directory.
	InputsFile = "inputs.jsonl.sz"
	// ManifestFile describes the archive layout.
	ManifestFile = "manifest.json"
	// HeaderFile carries the catalogue metadata.
	HeaderFile = "header.json"
)

// Manifest describes the archive layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	PacketPath string `json:"packet_path"`
	InputsPath string `json:"inputs_path"`
}

// Writer streams a recording to an archive directory: input frames as they are produced, the sealed
// packet once, and the header on Close.
type Writer struct {
	mu           sync.Mutex
	dir          string
	now          func() time.Time
	inputsFile   *os.File
	inputsStream *snappy.Writer
	header       Header
	frames       int
	packetSHA    string
	closed       bool
}

// NewWriter prepares `<root>/<session>-<timestamp>/` and opens the compressed input stream.
func NewWriter(root, sessionID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := archiveSessionCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	inputsFile, err := os.Create(filepath.Join(path, InputsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	inputsStream := snappy.NewBufferedWriter(inputsFile)

	manifest := Manifest{
		Version:    1,
		CreatedAt:  created.Format(time.RFC3339Nano),
		PacketPath: PacketFile,
		InputsPath: InputsFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, ManifestFile), data, 0o644)
	}
	if err != nil {
		return nil, Manifest{}, errors.Join(err, inputsStream.Close(), inputsFile.Close())
	}

	writer := &Writer{
		dir:          path,
		now:          clock,
		inputsFile:   inputsFile,
		inputsStream: inputsStream,
		header:       Header{SchemaVersion: HeaderSchemaVersion, FilePointer: ManifestFile},
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the archive.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendInput writes one input frame as a JSON line to the compressed op stream.
func (w *Writer) AppendInput(frame InputFrame) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	line, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := w.inputsStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.frames++
	return w.inputsStream.Flush()
}

// WritePacket stores the sealed packet and stamps its metadata into the pending header.
func (w *Writer) WritePacket(p *Packet) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	//1.- Compress the whole document in one frame; packets are written once and read whole.
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := encoder.EncodeAll(raw, nil)
	if err := encoder.Close(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	if err := os.WriteFile(filepath.Join(w.dir, PacketFile), compressed, 0o644); err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	w.packetSHA = hex.EncodeToString(sum[:])
	//2.- Capture catalogue fields now so Close only has to persist them.
	w.header.Seed = p.Seed
	w.header.Scene = p.Scene.Name
	w.header.Backend = p.Backend
	w.header.Profile = p.Tuning.Profile
	w.header.Mode = p.ValidationMode
	w.header.LastStep = p.LastStep()
	w.header.Ops = p.OpCount()
	w.header.Checkpoints = len(p.Checkpoints)
	w.header.PacketSHA256 = w.packetSHA
	w.header.CreatedAt = p.CreatedUTC
	return nil
}

// PacketSHA256 returns the digest of the uncompressed packet JSON, empty before WritePacket.
func (w *Writer) PacketSHA256() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packetSHA
}

// Close persists the header and releases the stream, reporting every failure.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Persist the header before dismantling the stream so catalogue scans see the bundle.
	var errs error
	if err := WriteHeader(filepath.Join(w.dir, HeaderFile), w.header); err != nil {
		errs = errors.Join(errs, err)
	}
	//2.- Attempt every flush and close regardless of earlier failures.
	errs = errors.Join(errs, w.inputsStream.Close(), w.inputsFile.Close())
	return errs
}

// Archive writes a sealed packet as a complete bundle under root and returns its directory.
func Archive(root, sessionID string, p *Packet, clock func() time.Time) (string, error) {
	w, _, err := NewWriter(root, sessionID, clock)
	if err != nil {
		return "", err
	}
	for _, frame := range p.Inputs {
		if err := w.AppendInput(frame); err != nil {
			return "", errors.Join(err, w.Close())
		}
	}
	if err := w.WritePacket(p); err != nil {
		return "", errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return w.Directory(), nil
}
