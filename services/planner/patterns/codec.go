// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// recordFormat is the leading byte of every encoded pattern.
const recordFormat byte = 1

// recordHeaderSize is the format byte plus a big-endian CRC32 of the body.
const recordHeaderSize = 5

// encodePattern frames the JSON encoding of p with a format byte and a
// CRC32 checksum.
func encodePattern(p *Pattern) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pattern %s: %w", p.ID, err)
	}
	buf := make([]byte, recordHeaderSize+len(body))
	buf[0] = recordFormat
	binary.BigEndian.PutUint32(buf[1:recordHeaderSize], crc32.ChecksumIEEE(body))
	copy(buf[recordHeaderSize:], body)
	return buf, nil
}

// decodePattern verifies the frame, decodes the body and validates the
// result. Every failure wraps ErrCorrupted.
func decodePattern(data []byte) (*Pattern, error) {
	if len(data) < recordHeaderSize {
		return nil, fmt.Errorf("%w: record too short (%d bytes)", ErrCorrupted, len(data))
	}
	if data[0] != recordFormat {
		return nil, fmt.Errorf("%w: unknown record format %d", ErrCorrupted, data[0])
	}
	body := data[recordHeaderSize:]
	want := binary.BigEndian.Uint32(data[1:recordHeaderSize])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)", ErrCorrupted, want, got)
	}
	var p Pattern
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorrupted)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &p, nil
}
