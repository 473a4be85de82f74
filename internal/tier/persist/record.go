package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/tiercache/tiercache/internal/tier"
)

// record is the stored form of an entry: a fixed header followed by the
// codec-encoded payload.
//
//	[0]     version
//	[1]     flags (bit0: compressed)
//	[2]     priority
//	[3:11]  expiresAt, unix nano, little endian
//	[11:19] storedAt, unix nano, little endian
//	[19:]   payload
const (
	recordVersion  = 1
	headerLen      = 19
	flagCompressed = 1 << 0
)

type record struct {
	expiresAt  int64
	storedAt   int64
	priority   tier.Priority
	compressed bool
	payload    []byte
}

func (r *record) marshal() []byte {
	buf := make([]byte, headerLen+len(r.payload))
	buf[0] = recordVersion
	if r.compressed {
		buf[1] |= flagCompressed
	}
	buf[2] = byte(r.priority)
	binary.LittleEndian.PutUint64(buf[3:11], uint64(r.expiresAt))
	binary.LittleEndian.PutUint64(buf[11:19], uint64(r.storedAt))
	copy(buf[headerLen:], r.payload)
	return buf
}

func (r *record) unmarshal(buf []byte) error {
	if len(buf) < headerLen {
		return fmt.Errorf("record too short: %d bytes", len(buf))
	}
	if buf[0] != recordVersion {
		return fmt.Errorf("unsupported record version %d", buf[0])
	}
	r.compressed = buf[1]&flagCompressed != 0
	r.priority = tier.Priority(buf[2])
	r.expiresAt = int64(binary.LittleEndian.Uint64(buf[3:11]))
	r.storedAt = int64(binary.LittleEndian.Uint64(buf[11:19]))
	r.payload = append([]byte(nil), buf[headerLen:]...)
	return nil
}

func (r *record) expired(nowNano int64) bool {
	return r.expiresAt > 0 && nowNano > r.expiresAt
}

func dataKey(key string) []byte {
	return append([]byte(dataPrefix), key...)
}

// indexKey builds an expiry index key. The timestamp is zero-padded so
// lexical iteration order equals expiry order.
func indexKey(expiresAt int64, key string) []byte {
	return []byte(fmt.Sprintf("%s%020d!%s", indexPrefix, expiresAt, key))
}

func parseIndexKey(raw []byte) (expiresAt int64, key string, ok bool) {
	// x!<20 digits>!<key>
	if len(raw) < len(indexPrefix)+21 {
		return 0, "", false
	}
	body := raw[len(indexPrefix):]
	if body[20] != '!' {
		return 0, "", false
	}
	if _, err := fmt.Sscanf(string(body[:20]), "%d", &expiresAt); err != nil {
		return 0, "", false
	}
	return expiresAt, string(body[21:]), true
}

func recordWeight(key string, buf []byte) int64 {
	return int64(len(dataPrefix) + len(key) + len(buf))
}
