package rag

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
)

var (
	ErrSnapshotNotFound = errors.New("persisted index not found")
	ErrCorruptSnapshot  = errors.New("persisted index is corrupt")
)

const (
	snapshotMagic   = "PDFCHAT\x00"
	snapshotVersion = uint16(1)

	maxSnapshotString = 64 << 20
	maxSnapshotCount  = 1 << 24
	maxSnapshotDim    = 1 << 16

	snapshotInitialCap = 1024
)

// Snapshot is the durable form of a VectorIndex plus the settings it was
// built with.
type Snapshot struct {
	ModelInfo    string
	DocumentName string
	ChunkSize    int
	ChunkOverlap int
	Chunks       []Chunk
	Vectors      []Vector
}

// Index rebuilds the VectorIndex held by the snapshot.
func (s *Snapshot) Index() (*VectorIndex, error) {
	return BuildIndex(s.Chunks, s.Vectors)
}

// NewSnapshot captures idx together with the settings used to build it.
func NewSnapshot(idx *VectorIndex, modelInfo, documentName string, chunkSize, chunkOverlap int) *Snapshot {
	vectors := make([]Vector, len(idx.vectors))
	copy(vectors, idx.vectors)
	return &Snapshot{
		ModelInfo:    modelInfo,
		DocumentName: documentName,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Chunks:       idx.Chunks(),
		Vectors:      vectors,
	}
}

// The container is: magic, uint16 version, then length-prefixed fields, all
// little endian. Chunk text is length-prefixed so any content round trips.
type snapshotWriter struct {
	w   *bufio.Writer
	err error
}

func (sw *snapshotWriter) u32(v uint32) {
	if sw.err == nil {
		sw.err = binary.Write(sw.w, binary.LittleEndian, v)
	}
}

func (sw *snapshotWriter) str(s string) {
	sw.u32(uint32(len(s)))
	if sw.err == nil {
		_, sw.err = sw.w.WriteString(s)
	}
}

func (sw *snapshotWriter) f64(v float64) {
	if sw.err == nil {
		sw.err = binary.Write(sw.w, binary.LittleEndian, math.Float64bits(v))
	}
}

// EncodeSnapshot writes s in the versioned container format.
func EncodeSnapshot(w io.Writer, s *Snapshot) error {
	if len(s.Chunks) != len(s.Vectors) {
		return fmt.Errorf("snapshot: %d chunks but %d vectors", len(s.Chunks), len(s.Vectors))
	}
	dim := 0
	if len(s.Vectors) > 0 {
		dim = len(s.Vectors[0])
	}

	sw := &snapshotWriter{w: bufio.NewWriter(w)}
	_, sw.err = sw.w.WriteString(snapshotMagic)
	if sw.err == nil {
		sw.err = binary.Write(sw.w, binary.LittleEndian, snapshotVersion)
	}
	sw.str(s.ModelInfo)
	sw.str(s.DocumentName)
	sw.u32(uint32(s.ChunkSize))
	sw.u32(uint32(s.ChunkOverlap))
	sw.u32(uint32(dim))
	sw.u32(uint32(len(s.Chunks)))
	for i, ch := range s.Chunks {
		if len(s.Vectors[i]) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(s.Vectors[i]), dim)
		}
		sw.u32(uint32(ch.Index))
		sw.u32(uint32(ch.StartOffset))
		sw.u32(uint32(ch.EndOffset))
		sw.str(ch.Text)
		for _, f := range s.Vectors[i] {
			sw.f64(f)
		}
	}
	if sw.err != nil {
		return sw.err
	}
	return sw.w.Flush()
}

type snapshotReader struct {
	r   *bufio.Reader
	err error
}

func (sr *snapshotReader) u32() uint32 {
	var v uint32
	if sr.err == nil {
		sr.err = binary.Read(sr.r, binary.LittleEndian, &v)
	}
	return v
}

func (sr *snapshotReader) str() string {
	n := sr.u32()
	if sr.err != nil {
		return ""
	}
	if n > maxSnapshotString {
		sr.err = fmt.Errorf("%w: string of %d bytes", ErrCorruptSnapshot, n)
		return ""
	}
	buf := make([]byte, n)
	_, sr.err = io.ReadFull(sr.r, buf)
	return string(buf)
}

func (sr *snapshotReader) f64() float64 {
	var bits uint64
	if sr.err == nil {
		sr.err = binary.Read(sr.r, binary.LittleEndian, &bits)
	}
	return math.Float64frombits(bits)
}

// DecodeSnapshot reads a container written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	sr := &snapshotReader{r: bufio.NewReader(r)}

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(sr.r, magic); err != nil || string(magic) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	var version uint16
	if err := binary.Read(sr.r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}

	s := &Snapshot{}
	s.ModelInfo = sr.str()
	s.DocumentName = sr.str()
	s.ChunkSize = int(sr.u32())
	s.ChunkOverlap = int(sr.u32())
	dim := sr.u32()
	count := sr.u32()
	if sr.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, sr.err)
	}
	if dim > maxSnapshotDim || count > maxSnapshotCount {
		return nil, fmt.Errorf("%w: %d vectors of %d dimensions", ErrCorruptSnapshot, count, dim)
	}

	// count is untrusted until the records are actually read
	s.Chunks = make([]Chunk, 0, min(count, snapshotInitialCap))
	s.Vectors = make([]Vector, 0, min(count, snapshotInitialCap))
	for i := uint32(0); i < count && sr.err == nil; i++ {
		ch := Chunk{
			Index:       int(sr.u32()),
			StartOffset: int(sr.u32()),
			EndOffset:   int(sr.u32()),
		}
		ch.Text = sr.str()
		v := make(Vector, dim)
		for j := range v {
			v[j] = sr.f64()
		}
		s.Chunks = append(s.Chunks, ch)
		s.Vectors = append(s.Vectors, v)
	}
	if sr.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, sr.err)
	}
	return s, nil
}

// IndexStore persists snapshots under a name.
type IndexStore interface {
	Save(name string, s *Snapshot) error
	// Load returns ErrSnapshotNotFound when nothing is stored under name.
	Load(name string) (*Snapshot, error)
}

// FileIndexStore keeps one <name>.idx file per index in dir.
type FileIndexStore struct {
	dir string
}

func NewFileIndexStore(dir string) *FileIndexStore {
	return &FileIndexStore{dir: dir}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *FileIndexStore) path(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "default"
	}
	return filepath.Join(s.dir, name+".idx")
}

// Save writes to a temp file and renames it into place.
func (s *FileIndexStore) Save(name string, snap *Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	final := s.path(name)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(final)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeSnapshot(tmp, snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (s *FileIndexStore) Load(name string) (*Snapshot, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	return DecodeSnapshot(f)
}
