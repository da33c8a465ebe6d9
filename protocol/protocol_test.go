package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestChunkFrameRoundTrip(t *testing.T) {
	header := ChunkHeader{
		TransferID: "xfer-1",
		ChunkIndex: 3,
		Checksum:   "abc123",
		IsLast:     true,
	}
	payload := []byte("some chunk bytes")

	frame, err := EncodeChunkFrame(header, payload)
	if err != nil {
		t.Fatalf("EncodeChunkFrame: %v", err)
	}

	gotHeader, gotPayload, err := DecodeChunkFrame(frame)
	if err != nil {
		t.Fatalf("DecodeChunkFrame: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header mismatch: got %+v want %+v", gotHeader, header)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", gotPayload, payload)
	}
}

func TestChunkFrameEmptyPayload(t *testing.T) {
	header := ChunkHeader{TransferID: "xfer-1", ChunkIndex: 0}
	frame, err := EncodeChunkFrame(header, nil)
	if err != nil {
		t.Fatalf("EncodeChunkFrame: %v", err)
	}
	_, payload, err := DecodeChunkFrame(frame)
	if err != nil {
		t.Fatalf("DecodeChunkFrame: %v", err)
	}
	if len(payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(payload))
	}
}

func TestDecodeChunkFrameTooShort(t *testing.T) {
	if _, _, err := DecodeChunkFrame([]byte{0, 0, 1}); err == nil {
		t.Fatal("expected error for frame shorter than length prefix")
	}
}

func TestDecodeChunkFrameHeaderTooLong(t *testing.T) {
	frame := []byte{0, 0, 0, 10, 'x'} // claims 10 header bytes but only 1 remains
	if _, _, err := DecodeChunkFrame(frame); err == nil {
		t.Fatal("expected error for header length exceeding frame")
	}
}

func TestDecodeChunkFrameBadHeaderJSON(t *testing.T) {
	frame := []byte{0, 0, 0, 3, '{', 'x', 'x'}
	if _, _, err := DecodeChunkFrame(frame); err == nil {
		t.Fatal("expected error for unparsable header JSON")
	}
}

func TestControlFrameRoundTrip(t *testing.T) {
	req := FileTransferRequest{
		Type:         TypeFileTransferRequest,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
		ID:           "req-1",
		SessionID:    "sess-1",
		Filename:     "report.pdf",
		FileSize:     1024,
		TransferType: TransferUpload,
		Technician:   "tech-42",
	}

	payload, err := EncodeControlFrame(req)
	if err != nil {
		t.Fatalf("EncodeControlFrame: %v", err)
	}

	msgType, err := EnvelopeType(payload)
	if err != nil {
		t.Fatalf("EnvelopeType: %v", err)
	}
	if msgType != req.Type {
		t.Fatalf("type mismatch: got %q want %q", msgType, req.Type)
	}

	var decoded FileTransferRequest
	if err := DecodeControlFrame(payload, &decoded); err != nil {
		t.Fatalf("DecodeControlFrame: %v", err)
	}
	if decoded != req {
		t.Fatalf("round-trip mismatch: got %+v want %+v", decoded, req)
	}
}

func TestEnvelopeTypeMissingType(t *testing.T) {
	if _, err := EnvelopeType([]byte(`{"timestamp":"2024-01-01T00:00:00Z"}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestEnvelopeTypeMalformedJSON(t *testing.T) {
	if _, err := EnvelopeType([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDecodeControlFrameMissingType(t *testing.T) {
	var dst ChunkAck
	if err := DecodeControlFrame([]byte(`{"chunk_index":1}`), &dst); err == nil {
		t.Fatal("expected error for control frame lacking type")
	}
}
