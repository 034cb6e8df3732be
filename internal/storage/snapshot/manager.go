package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/pkg/crypto/seal"
)

var magicBytes = []byte("RCSNAP01")

const (
	filePrefix    = "snapshot-"
	fileExtension = ".snap"
	metaExtension = ".meta.json"
	checksumSize  = 32
	headerVersion = 1

	// maxRecordSize rejects absurd length prefixes from damaged files
	// before allocating.
	maxRecordSize = 64 << 20

	// maxHeaderSize bounds the header frame the same way.
	maxHeaderSize = 16 << 20

	// ctxCheckEvery is how many records are written or read between
	// context checks.
	ctxCheckEvery = 1024

	DefaultRetentionCount = 3
)

// keyCheckPlaintext is sealed into the header of encrypted snapshots so a
// wrong key is told apart from a damaged file.
var keyCheckPlaintext = []byte("rowcache snapshot key check")

// recordJSON keeps numbers as json.Number so values survive a round trip
// with their original precision.
var recordJSON = jsoniter.Config{UseNumber: true}.Froze()

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrCorrupt          = errors.New("snapshot: corrupt file")
	ErrKeyMismatch      = errors.New("snapshot: encryption key does not match")
	ErrNotFound         = errors.New("snapshot: not found")
	ErrNoSnapshots      = errors.New("snapshot: no snapshots available")
)

type fileHeader struct {
	Version   int             `json:"version"`
	ID        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Count     int             `json:"count"`
	Encrypted bool            `json:"encrypted"`
	Algorithm string          `json:"algorithm,omitempty"`
	KeyCheck  []byte          `json:"key_check,omitempty"`
	Metadata  domain.Metadata `json:"metadata"`
}

// Config configures the snapshot manager.
type Config struct {
	Dir string

	// RetentionCount is how many snapshot files Prune keeps.
	RetentionCount int

	// Sealer encrypts every record when set.
	Sealer *seal.Sealer
}

// DefaultConfig returns a plaintext configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
	}
}

// Manager writes and reads snapshot files in one directory.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// mu serializes writers; readers open files independently.
	mu sync.Mutex
}

// NewManager creates the directory if needed.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "snapshot", "dir", cfg.Dir),
	}, nil
}

// Info describes one snapshot file.
type Info struct {
	ID        string          `json:"id"`
	Path      string          `json:"path"`
	Size      int64           `json:"size"`
	Count     int             `json:"count"`
	CreatedAt int64           `json:"created_at"`
	Checksum  string          `json:"checksum,omitempty"`
	Encrypted bool            `json:"encrypted"`
	Metadata  domain.Metadata `json:"metadata"`
}

// Save writes snap and prunes old files. It implements the coordinator's
// persister contract.
func (m *Manager) Save(ctx context.Context, snap *domain.Snapshot) error {
	info, err := m.Create(ctx, snap)
	if err != nil {
		return err
	}
	if err := m.Prune(); err != nil {
		m.logger.Warn("prune snapshots failed", "error", err)
	}
	m.logger.Debug("snapshot saved", "id", info.ID, "records", info.Count, "size", info.Size)
	return nil
}

// Create writes a new snapshot file for snap and its metadata side-record.
func (m *Manager) Create(ctx context.Context, snap *domain.Snapshot) (*Info, error) {
	if snap == nil || !snap.HasData() {
		return nil, fmt.Errorf("snapshot: only success snapshots can be saved")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	id := ulid.Make().String()

	hdr := fileHeader{
		Version:   headerVersion,
		ID:        id,
		CreatedAt: now.UnixMilli(),
		Count:     len(snap.Records),
		Metadata:  snap.Metadata(),
	}
	if m.cfg.Sealer != nil {
		check, err := m.cfg.Sealer.Seal(keyCheckPlaintext, []byte(id))
		if err != nil {
			return nil, fmt.Errorf("snapshot: seal key check: %w", err)
		}
		hdr.Encrypted = true
		hdr.Algorithm = string(m.cfg.Sealer.Algorithm())
		hdr.KeyCheck = check
	}

	tempPath := filepath.Join(m.cfg.Dir, filePrefix+id+".tmp")
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	sum, err := m.writeFile(ctx, file, &hdr, snap.Records)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}

	finalPath := m.snapPath(id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}
	syncDir(m.cfg.Dir)

	info := &Info{
		ID:        id,
		Path:      finalPath,
		Size:      stat.Size(),
		Count:     hdr.Count,
		CreatedAt: hdr.CreatedAt,
		Checksum:  hex.EncodeToString(sum),
		Encrypted: hdr.Encrypted,
		Metadata:  hdr.Metadata,
	}
	if err := m.writeMeta(info); err != nil {
		return nil, err
	}
	return info, nil
}

// writeFile streams the body of a snapshot and appends the checksum
// trailer, which is returned.
func (m *Manager) writeFile(ctx context.Context, file *os.File, hdr *fileHeader, records []domain.Record) ([]byte, error) {
	h := sha256.New()
	bw := bufio.NewWriterSize(io.MultiWriter(file, h), 64<<10)

	if _, err := bw.Write(magicBytes); err != nil {
		return nil, fmt.Errorf("snapshot: write magic: %w", err)
	}

	hdrJSON, err := recordJSON.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}
	if err := writeFrame(bw, hdrJSON); err != nil {
		return nil, fmt.Errorf("snapshot: write header: %w", err)
	}

	for i, rec := range records {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		data, err := recordJSON.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("snapshot: marshal record %d: %w", i, err)
		}
		if m.cfg.Sealer != nil {
			data, err = m.cfg.Sealer.Seal(data, recordAAD(hdr.ID, i))
			if err != nil {
				return nil, fmt.Errorf("snapshot: seal record %d: %w", i, err)
			}
		}
		if err := writeFrame(bw, data); err != nil {
			return nil, fmt.Errorf("snapshot: write record %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("snapshot: flush: %w", err)
	}

	// The trailer is not part of the hash.
	sum := h.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		return nil, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return sum, nil
}

// writeMeta atomically writes the side-record for info.
func (m *Manager) writeMeta(info *Info) error {
	data, err := recordJSON.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal meta: %w", err)
	}

	tmp := m.metaPath(info.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("snapshot: write meta: %w", err)
	}
	if err := os.Rename(tmp, m.metaPath(info.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename meta: %w", err)
	}
	return nil
}

// Load returns the newest valid snapshot. Corrupt files are skipped in
// favour of older ones; domain.ErrSnapshotNotFound is returned when none
// remain.
func (m *Manager) Load(ctx context.Context) (*domain.Snapshot, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	for i := len(infos) - 1; i >= 0; i-- {
		snap, err := m.loadFile(ctx, infos[i].Path)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidMagic) || errors.Is(err, ErrCorrupt) {
			m.logger.Warn("skipping corrupt snapshot", "id", infos[i].ID, "error", err)
			continue
		}
		return nil, err
	}

	return nil, domain.ErrSnapshotNotFound.WithCause(ErrNoSnapshots)
}

// loadFile reads and verifies one snapshot. Records are decoded while the
// checksum is computed, so the file is read once.
func (m *Manager) loadFile(ctx context.Context, path string) (*domain.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < int64(len(magicBytes))+4+checksumSize {
		return nil, ErrChecksumMismatch
	}
	bodyLen := stat.Size() - checksumSize

	h := sha256.New()
	br := bufio.NewReaderSize(io.TeeReader(io.NewSectionReader(f, 0, bodyLen), h), 64<<10)

	hdr, err := m.readHeader(br)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, hdr.Count)
	var buf []byte
	for i := 0; i < hdr.Count; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, next, err := m.readRecord(br, hdr, i, buf)
		if err != nil {
			return nil, err
		}
		buf = next
		records = append(records, rec)
	}

	if _, err := br.Peek(1); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes after %d records", ErrCorrupt, hdr.Count)
	}
	if err := verifyTrailer(f, bodyLen, h); err != nil {
		return nil, err
	}

	md := hdr.Metadata
	snap := &domain.Snapshot{
		Status:      domain.StatusSuccess,
		Records:     records,
		Count:       len(records),
		FetchedAt:   md.FetchedAt,
		Version:     md.Version,
		Fingerprint: md.Fingerprint,
		SizeBytes:   md.SizeEstimate,
		Columns:     md.Columns,
		Source:      md.Source,
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return snap, nil
}

// ReadRange decodes n records of snapshot id starting at the 0-based index
// start. Records before start are skipped by their length prefix without
// being decoded. The checksum is not verified.
func (m *Manager) ReadRange(id string, start, n int) ([]domain.Record, error) {
	if start < 0 || n < 0 {
		return nil, fmt.Errorf("snapshot: invalid range start=%d n=%d", start, n)
	}

	f, err := os.Open(m.snapPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64<<10)
	hdr, err := m.readHeader(br)
	if err != nil {
		return nil, err
	}
	if start >= hdr.Count {
		return []domain.Record{}, nil
	}

	for i := 0; i < start; i++ {
		size, err := readLen(br)
		if err != nil {
			return nil, fmt.Errorf("%w: skip record %d: %v", ErrCorrupt, i, err)
		}
		if _, err := br.Discard(int(size)); err != nil {
			return nil, fmt.Errorf("%w: skip record %d: %v", ErrCorrupt, i, err)
		}
	}

	end := min(start+n, hdr.Count)
	out := make([]domain.Record, 0, end-start)
	var buf []byte
	for i := start; i < end; i++ {
		rec, next, err := m.readRecord(br, hdr, i, buf)
		if err != nil {
			return nil, err
		}
		buf = next
		out = append(out, rec)
	}
	return out, nil
}

// LoadMetadata returns the metadata of the newest snapshot from its
// side-record, without opening the snapshot file.
func (m *Manager) LoadMetadata(ctx context.Context) (domain.Metadata, error) {
	info, err := m.Latest()
	if err != nil {
		if errors.Is(err, ErrNoSnapshots) {
			return domain.Metadata{}, domain.ErrSnapshotNotFound.WithCause(err)
		}
		return domain.Metadata{}, err
	}
	return info.Metadata, nil
}

// Latest returns the side-record of the newest snapshot file.
func (m *Manager) Latest() (*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		data, err := os.ReadFile(m.metaPath(infos[i].ID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("snapshot: read meta: %w", err)
		}
		var info Info
		if err := recordJSON.Unmarshal(data, &info); err != nil {
			m.logger.Warn("unreadable snapshot meta", "id", infos[i].ID, "error", err)
			continue
		}
		info.Path = infos[i].Path
		return &info, nil
	}
	return nil, ErrNoSnapshots
}

// List returns snapshot files oldest first. Only ID, Path and Size are set.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			names = append(names, name)
		}
	}
	// ULIDs sort by creation time.
	sort.Strings(names)

	infos := make([]*Info, 0, len(names))
	for _, name := range names {
		p := filepath.Join(m.cfg.Dir, name)
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:   strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExtension),
			Path: p,
			Size: stat.Size(),
		})
	}
	return infos, nil
}

// Prune deletes all but the newest RetentionCount snapshots together with
// their side-records.
func (m *Manager) Prune() error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	if len(infos) <= m.cfg.RetentionCount {
		return nil
	}

	for _, info := range infos[:len(infos)-m.cfg.RetentionCount] {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("snapshot: remove %s: %w", info.ID, err)
		}
		if err := os.Remove(m.metaPath(info.ID)); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("remove snapshot meta failed", "id", info.ID, "error", err)
		}
		m.logger.Debug("snapshot pruned", "id", info.ID)
	}
	return nil
}

// Close releases nothing; files are opened per call.
func (m *Manager) Close() error {
	return nil
}

func (m *Manager) readHeader(r *bufio.Reader) (*fileHeader, error) {
	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, ErrInvalidMagic
	}

	hdrLen, err := readLen(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read header length: %v", ErrCorrupt, err)
	}
	if hdrLen == 0 {
		return nil, fmt.Errorf("%w: empty header", ErrCorrupt)
	}
	if hdrLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header claims %d bytes", ErrCorrupt, hdrLen)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrJSON); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}

	var hdr fileHeader
	if err := recordJSON.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("%w: unmarshal header: %v", ErrCorrupt, err)
	}
	if hdr.Version != headerVersion {
		return nil, fmt.Errorf("snapshot: unsupported header version %d", hdr.Version)
	}
	if hdr.Count < 0 {
		return nil, fmt.Errorf("%w: negative record count", ErrCorrupt)
	}

	switch {
	case hdr.Encrypted && m.cfg.Sealer == nil:
		return nil, fmt.Errorf("%w: snapshot %s is encrypted and no key is configured", ErrKeyMismatch, hdr.ID)
	case !hdr.Encrypted && m.cfg.Sealer != nil:
		return nil, fmt.Errorf("%w: snapshot %s is not encrypted", ErrKeyMismatch, hdr.ID)
	case hdr.Encrypted:
		if _, err := m.cfg.Sealer.Open(hdr.KeyCheck, []byte(hdr.ID)); err != nil {
			return nil, fmt.Errorf("%w: snapshot %s", ErrKeyMismatch, hdr.ID)
		}
	}
	return &hdr, nil
}

// readRecord reads the record frame at index i, reusing buf when it is
// large enough.
func (m *Manager) readRecord(r *bufio.Reader, hdr *fileHeader, i int, buf []byte) (domain.Record, []byte, error) {
	size, err := readLen(r)
	if err != nil {
		return nil, buf, fmt.Errorf("%w: record %d length: %v", ErrCorrupt, i, err)
	}
	if size > maxRecordSize {
		return nil, buf, fmt.Errorf("%w: record %d claims %d bytes", ErrCorrupt, i, size)
	}
	if cap(buf) < int(size) {
		buf = make([]byte, size)
	}
	data := buf[:size]
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, buf, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
	}

	if hdr.Encrypted {
		data, err = m.cfg.Sealer.Open(data, recordAAD(hdr.ID, i))
		if err != nil {
			return nil, buf, fmt.Errorf("%w: open record %d: %v", ErrCorrupt, i, err)
		}
	}

	var rec domain.Record
	if err := recordJSON.Unmarshal(data, &rec); err != nil {
		return nil, buf, fmt.Errorf("%w: decode record %d: %v", ErrCorrupt, i, err)
	}
	if rec == nil {
		rec = domain.Record{}
	}
	return rec, buf, nil
}

func (m *Manager) snapPath(id string) string {
	return filepath.Join(m.cfg.Dir, filePrefix+id+fileExtension)
}

func (m *Manager) metaPath(id string) string {
	return filepath.Join(m.cfg.Dir, filePrefix+id+metaExtension)
}

func verifyTrailer(f *os.File, bodyLen int64, h hash.Hash) error {
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return fmt.Errorf("%w: read checksum: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return ErrChecksumMismatch
	}
	return nil
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readLen(r io.Reader) (uint32, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(lenBuf[:]), nil
}

// recordAAD binds a sealed record to its snapshot and position.
func recordAAD(id string, i int) []byte {
	return []byte(id + ":" + strconv.Itoa(i))
}

// syncDir makes a rename durable. Failures are ignored; not every
// filesystem supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
