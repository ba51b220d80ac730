package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HeaderSchemaVersion tracks the schema version for archive header documents.
const HeaderSchemaVersion = 1

// Header is the catalogue metadata persisted alongside an archived packet.
type Header struct {
	SchemaVersion int       `json:"schema_version"`
	Seed          uint64    `json:"seed"`
	Scene         string    `json:"scene,omitempty"`
	Backend       string    `json:"backend,omitempty"`
	Profile       string    `json:"profile,omitempty"`
	Mode          Mode      `json:"mode,omitempty"`
	LastStep      uint32    `json:"last_step"`
	Ops           int       `json:"ops"`
	Checkpoints   int       `json:"checkpoints"`
	PacketSHA256  string    `json:"packet_sha256,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	FilePointer   string    `json:"file_pointer"`
}

// Validate ensures the header contains enough information for catalogue tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	//1.- Catalogue tooling locates the bundle through the pointer.
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	if h.Mode != "" {
		if _, err := ParseMode(string(h.Mode)); err != nil {
			return err
		}
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes an archive header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
