package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrFileOpen, ErrRead, ErrWrite mirror the typed failure kinds from the
// error handling design: fatal to the affected session.
var (
	ErrFileOpen = errors.New("transfer: file open failed")
	ErrRead     = errors.New("transfer: read failed")
	ErrWrite    = errors.New("transfer: write failed")
)

// Session is the single source of truth for one transfer: its request,
// mutable status, progress, and file handle. Exclusively owned by the
// Engine Controller and referenced by at most one Worker while
// InProgress or Paused.
type Session struct {
	mu sync.Mutex

	Request     Request
	status      Status
	Progress    *Progress
	ChunkSize   int
	TotalChunks int

	file *os.File
}

// NewSession constructs a Pending session for req with the given chunk
// size. TotalChunks is computed from req.FileSize when known; downloads
// with an unknown size start at 0 and learn it from the chunk marked
// last (SetTotalChunks), or from an explicit SetTotalBytes.
func NewSession(req Request, chunkSize int) *Session {
	return &Session{
		Request:     req,
		status:      StatusPending,
		Progress:    NewProgress(req.FileSize),
		ChunkSize:   chunkSize,
		TotalChunks: ChunkCount(req.FileSize, chunkSize),
	}
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TransitionTo moves the session to to, enforcing the legal-edge state
// machine. A terminal status can never be left.
func (s *Session) TransitionTo(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validateTransition(s.status, to); err != nil {
		return err
	}
	s.status = to
	return nil
}

// SetTotalBytes updates FileSize/TotalChunks once the peer's response
// supplies it (inbound downloads).
func (s *Session) SetTotalBytes(size int64) {
	s.mu.Lock()
	s.Request.FileSize = size
	s.TotalChunks = ChunkCount(size, s.ChunkSize)
	s.mu.Unlock()
	s.Progress.SetTotalBytes(size)
}

// OpenFile opens LocalPath read-only for an upload, or creates parent
// directories and opens it read/write, truncated, for a download (the
// handle is read back by VerifyChecksum).
func (s *Session) OpenFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Request.Direction == DirectionUpload {
		f, err := os.Open(s.Request.LocalPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFileOpen, err)
		}
		s.file = f
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.Request.LocalPath), 0o755); err != nil {
		return fmt.Errorf("%w: create destination directory: %v", ErrFileOpen, err)
	}
	f, err := os.OpenFile(s.Request.LocalPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	s.file = f
	return nil
}

// ReadChunk seeks to index*ChunkSize and reads up to ChunkSize bytes.
// Only the last chunk may return fewer bytes.
func (s *Session) ReadChunk(index int) ([]byte, error) {
	s.mu.Lock()
	file := s.file
	chunkSize := s.ChunkSize
	s.mu.Unlock()

	if file == nil {
		return nil, fmt.Errorf("%w: file not open", ErrRead)
	}

	buffer := make([]byte, chunkSize)
	n, err := file.ReadAt(buffer, int64(index)*int64(chunkSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no bytes at chunk %d", ErrRead, index)
	}
	return buffer[:n], nil
}

// WriteChunk seeks to index*ChunkSize, writes data, and flushes.
func (s *Session) WriteChunk(index int, data []byte) error {
	s.mu.Lock()
	file := s.file
	chunkSize := s.ChunkSize
	s.mu.Unlock()

	if file == nil {
		return fmt.Errorf("%w: file not open", ErrWrite)
	}

	n, err := file.WriteAt(data, int64(index)*int64(chunkSize))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write at chunk %d", ErrWrite, index)
	}
	return file.Sync()
}

// ComputeWholeFileHash hashes the file contents with SHA-256, returning
// a lowercase hex digest. The pre-call seek position is restored.
func (s *Session) ComputeWholeFileHash() (string, error) {
	s.mu.Lock()
	file := s.file
	s.mu.Unlock()

	if file == nil {
		return "", fmt.Errorf("%w: file not open", ErrRead)
	}

	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRead, err)
	}
	defer func() { _, _ = file.Seek(pos, io.SeekStart) }()

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRead, err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRead, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ErrChecksumMismatch is returned by VerifyChecksum on a whole-file
// hash mismatch.
var ErrChecksumMismatch = errors.New("transfer: checksum mismatch")

// VerifyChecksum compares expected against the file's computed hash,
// case-insensitively.
func (s *Session) VerifyChecksum(expected string) error {
	actual, err := s.ComputeWholeFileHash()
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

// UpdateChunkProgress sets bytesTransferred from the count of completed
// chunks, clamped to FileSize.
func (s *Session) UpdateChunkProgress(completed int) {
	s.mu.Lock()
	chunkSize := s.ChunkSize
	fileSize := s.Request.FileSize
	s.mu.Unlock()

	transferred := int64(completed) * int64(chunkSize)
	if transferred > fileSize {
		transferred = fileSize
	}
	s.Progress.Set(transferred)
}

// SetTotalChunks raises TotalChunks when a download's final chunk
// reveals a count higher than anticipated from the (possibly unknown)
// request file size.
func (s *Session) SetTotalChunks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.TotalChunks {
		s.TotalChunks = n
	}
}

// Close closes the open file handle, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	file := s.file
	s.file = nil
	s.mu.Unlock()

	if file == nil {
		return nil
	}
	return file.Close()
}

// DeletePartialFile removes a partially written download destination.
// Safe to call after Close.
func (s *Session) DeletePartialFile() error {
	if s.Request.Direction != DirectionDownload {
		return nil
	}
	err := os.Remove(s.Request.LocalPath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ChecksumHex hashes payload with SHA-256, returning lowercase hex.
func ChecksumHex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FileChecksumHex hashes the file at path with SHA-256.
func FileChecksumHex(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRead, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
