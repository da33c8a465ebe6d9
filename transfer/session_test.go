package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionUploadReadChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.bin")
	content := []byte("abcdefghij") // 10 bytes
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	req := Request{ID: "u1", Direction: DirectionUpload, LocalPath: path, FileSize: int64(len(content))}
	session := NewSession(req, 4)
	if session.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", session.TotalChunks)
	}

	if err := session.OpenFile(); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer session.Close()

	chunk0, err := session.ReadChunk(0)
	if err != nil || string(chunk0) != "abcd" {
		t.Fatalf("ReadChunk(0) = %q, %v", chunk0, err)
	}
	chunk2, err := session.ReadChunk(2)
	if err != nil || string(chunk2) != "ij" {
		t.Fatalf("ReadChunk(2) = %q, %v", chunk2, err)
	}
}

func TestSessionDownloadWriteChunksAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dest.bin")

	content := []byte("0123456789")
	expected := ChecksumHex(content)

	req := Request{ID: "d1", Direction: DirectionDownload, LocalPath: path, FileSize: int64(len(content)), Checksum: expected}
	session := NewSession(req, 4)

	if err := session.OpenFile(); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer session.Close()

	if err := session.WriteChunk(0, content[0:4]); err != nil {
		t.Fatalf("WriteChunk(0): %v", err)
	}
	if err := session.WriteChunk(1, content[4:8]); err != nil {
		t.Fatalf("WriteChunk(1): %v", err)
	}
	if err := session.WriteChunk(2, content[8:10]); err != nil {
		t.Fatalf("WriteChunk(2): %v", err)
	}

	if err := session.VerifyChecksum(expected); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
}

func TestSessionVerifyChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dest.bin")

	req := Request{ID: "d2", Direction: DirectionDownload, LocalPath: path, FileSize: 4}
	session := NewSession(req, 4)
	if err := session.OpenFile(); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer session.Close()

	if err := session.WriteChunk(0, []byte("abcd")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	if err := session.VerifyChecksum("deadbeef"); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestUpdateChunkProgressClampsToFileSize(t *testing.T) {
	req := Request{ID: "u2", Direction: DirectionUpload, FileSize: 10}
	session := NewSession(req, 4)
	session.UpdateChunkProgress(10) // way beyond total chunks
	if session.Progress.Snapshot().BytesTransferred != 10 {
		t.Fatalf("expected clamp to FileSize=10, got %d", session.Progress.Snapshot().BytesTransferred)
	}
}

func TestDeletePartialFileOnlyAffectsDownloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	upload := &Session{Request: Request{Direction: DirectionUpload, LocalPath: path}}
	if err := upload.DeletePartialFile(); err != nil {
		t.Fatalf("expected no-op for upload, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected upload source file to remain, got %v", err)
	}

	download := &Session{Request: Request{Direction: DirectionDownload, LocalPath: path}}
	if err := download.DeletePartialFile(); err != nil {
		t.Fatalf("DeletePartialFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected partial download file removed, got %v", err)
	}
}

func TestChunkCount(t *testing.T) {
	cases := []struct {
		size      int64
		chunkSize int
		want      int
	}{
		{0, 64, 0},
		{64, 64, 1},
		{65, 64, 2},
		{133120, 65536, 3},
	}
	for _, c := range cases {
		if got := ChunkCount(c.size, c.chunkSize); got != c.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", c.size, c.chunkSize, got, c.want)
		}
	}
}
