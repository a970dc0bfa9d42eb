package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"lagbot-go/internal/signal"
)

// JSONLPersister appends signals as JSON lines for later analysis.
type JSONLPersister struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLPersister creates/opens the target file and returns a persister.
func NewJSONLPersister(path string) (*JSONLPersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLPersister{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Persist writes each signal as one JSON line, returning the ids written so
// the caller can clear them from the registry.
func (p *JSONLPersister) Persist(signals []signal.LagSignal) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]int64, 0, len(signals))
	for _, sig := range signals {
		if err := p.enc.Encode(sig); err != nil {
			return ids, err
		}
		ids = append(ids, sig.ID)
	}
	return ids, nil
}

// Close flushes and closes the file handle.
func (p *JSONLPersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
