package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// EncodeChunkFrame builds a binary chunk frame: a 4-byte big-endian
// length H, H bytes of the JSON-encoded header, then the payload bytes.
func EncodeChunkFrame(header ChunkHeader, payload []byte) ([]byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode chunk header: %w", err)
	}

	frame := make([]byte, 0, 4+len(headerBytes)+len(payload))
	lengthPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(len(headerBytes)))

	frame = append(frame, lengthPrefix...)
	frame = append(frame, headerBytes...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeChunkFrame parses a binary chunk frame, returning ErrMalformedFrame
// when the frame is shorter than 4 bytes, the declared header length
// exceeds the remaining frame length, or the header document fails to
// parse, per spec.md §4.1.
func DecodeChunkFrame(frame []byte) (ChunkHeader, []byte, error) {
	if len(frame) < 4 {
		return ChunkHeader{}, nil, fmt.Errorf("%w: frame shorter than length prefix", ErrMalformedFrame)
	}

	headerLen := binary.BigEndian.Uint32(frame[:4])
	remaining := uint32(len(frame) - 4)
	if headerLen > remaining {
		return ChunkHeader{}, nil, fmt.Errorf("%w: header length %d exceeds remaining frame length %d", ErrMalformedFrame, headerLen, remaining)
	}

	headerBytes := frame[4 : 4+headerLen]
	var header ChunkHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("%w: decode chunk header: %v", ErrMalformedFrame, err)
	}

	payload := frame[4+headerLen:]
	return header, payload, nil
}
