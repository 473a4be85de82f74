package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/tiercache/tiercache/internal/tier"
)

// Entry wire format inside a snapshot record:
//
//	[0]      version
//	[1]      priority
//	[2:10]   expiresAt, unix nano, little endian
//	[10:18]  lastAccessed, unix nano, little endian
//	[18:26]  storedAt, unix nano, little endian
//	[26:30]  key length
//	[30:]    key, then value
const (
	entryVersion   = 1
	entryHeaderLen = 30
)

func marshalEntry(e *tier.Entry) []byte {
	buf := make([]byte, entryHeaderLen+len(e.Key)+len(e.Value))
	buf[0] = entryVersion
	buf[1] = byte(e.Priority)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(e.ExpiresAt))
	binary.LittleEndian.PutUint64(buf[10:18], uint64(e.LastAccessed))
	binary.LittleEndian.PutUint64(buf[18:26], uint64(e.StoredAt))
	binary.LittleEndian.PutUint32(buf[26:30], uint32(len(e.Key)))
	copy(buf[entryHeaderLen:], e.Key)
	copy(buf[entryHeaderLen+len(e.Key):], e.Value)
	return buf
}

func unmarshalEntry(buf []byte) (*tier.Entry, error) {
	if len(buf) < entryHeaderLen {
		return nil, fmt.Errorf("snapshot entry too short: %d bytes", len(buf))
	}
	if buf[0] != entryVersion {
		return nil, fmt.Errorf("unsupported snapshot entry version %d", buf[0])
	}
	keyLen := int(binary.LittleEndian.Uint32(buf[26:30]))
	if entryHeaderLen+keyLen > len(buf) {
		return nil, fmt.Errorf("snapshot entry key length %d out of bounds", keyLen)
	}
	value := append([]byte(nil), buf[entryHeaderLen+keyLen:]...)
	return &tier.Entry{
		Key:          string(buf[entryHeaderLen : entryHeaderLen+keyLen]),
		Value:        value,
		ExpiresAt:    int64(binary.LittleEndian.Uint64(buf[2:10])),
		LastAccessed: int64(binary.LittleEndian.Uint64(buf[10:18])),
		StoredAt:     int64(binary.LittleEndian.Uint64(buf[18:26])),
		Priority:     tier.Priority(buf[1]),
		Size:         int64(len(value)),
	}, nil
}
