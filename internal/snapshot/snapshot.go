// Package snapshot serializes the memory tier for diagnostics and restart
// warm-up. The format is an implementation detail, not a wire protocol:
// length-prefixed records with a crc32 guard, optionally gzipped.
package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/tier"
	"github.com/tiercache/tiercache/internal/tier/memory"
)

var gzipMagic = []byte{0x1f, 0x8b}

// maxRecordLen bounds one decoded record. The length prefix comes from
// untrusted input and must be validated before allocation.
const maxRecordLen = 64 << 20

// Export serializes every live memory-tier entry.
func Export(ctx context.Context, mem *memory.Tier, gzipOn bool) ([]byte, error) {
	var out bytes.Buffer

	var w io.Writer = &out
	var gw *gzip.Writer
	if gzipOn {
		gw = gzip.NewWriter(&out)
		w = gw
	}
	bw := bufio.NewWriterSize(w, 64*1024)

	var writeErr error
	mem.Export(ctx, func(e *tier.Entry) bool {
		data := marshalEntry(e)

		var lenBuf [8]byte
		binary.LittleEndian.PutUint32(lenBuf[0:4], uint32(len(data)))
		binary.LittleEndian.PutUint32(lenBuf[4:8], crc32.ChecksumIEEE(data))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			writeErr = err
			return false
		}
		if _, err := bw.Write(data); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return nil, fmt.Errorf("write snapshot record: %w", writeErr)
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("flush snapshot: %w", err)
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("close snapshot gzip: %w", err)
		}
	}
	return out.Bytes(), nil
}

// Import replays a snapshot into the memory tier. Entries already expired
// at load time are skipped. Returns how many entries were restored.
func Import(ctx context.Context, mem *memory.Tier, clk clock.Clock, data []byte) (int, error) {
	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, gzipMagic) {
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return 0, fmt.Errorf("open snapshot gzip: %w", err)
		}
		defer gzr.Close()
		r = gzr
	}

	br := bufio.NewReaderSize(r, 64*1024)
	now := clk.Now()
	restored := 0

	var metaBuf [8]byte
	for {
		if _, err := io.ReadFull(br, metaBuf[:]); err == io.EOF {
			break
		} else if err != nil {
			return restored, fmt.Errorf("read snapshot record meta: %w", err)
		}

		sz := binary.LittleEndian.Uint32(metaBuf[0:4])
		expCRC := binary.LittleEndian.Uint32(metaBuf[4:8])
		if sz > maxRecordLen {
			return restored, fmt.Errorf("snapshot record length %d out of bounds", sz)
		}
		buf := make([]byte, sz)
		if _, err := io.ReadFull(br, buf); err != nil {
			return restored, fmt.Errorf("read snapshot record: %w", err)
		}
		if crc32.ChecksumIEEE(buf) != expCRC {
			return restored, fmt.Errorf("snapshot record crc mismatch")
		}

		e, err := unmarshalEntry(buf)
		if err != nil {
			return restored, fmt.Errorf("decode snapshot record: %w", err)
		}
		if e.Expired(now) {
			continue
		}
		if err := mem.Set(ctx, e); err != nil {
			return restored, err
		}
		restored++

		select {
		case <-ctx.Done():
			return restored, ctx.Err()
		default:
		}
	}
	return restored, nil
}

// Save writes a snapshot file atomically (tmp then rename).
func Save(ctx context.Context, mem *memory.Tier, cfg *config.SnapshotCfg) error {
	start := time.Now()
	if !cfg.Enabled() {
		return nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := Export(ctx, mem, cfg.Gzip)
	if err != nil {
		return err
	}

	name := filepath.Join(cfg.Dir, cfg.Name+fileExt(cfg))
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("rename snapshot file: %w", err)
	}

	log.Info().
		Str("file", name).
		Int("bytes", len(data)).
		Str("elapsed", time.Since(start).String()).
		Msg("snapshot saved")
	return nil
}

// Load restores the memory tier from the snapshot file, if one exists.
func Load(ctx context.Context, mem *memory.Tier, clk clock.Clock, cfg *config.SnapshotCfg) (int, error) {
	start := time.Now()
	if !cfg.Enabled() {
		return 0, nil
	}

	name := filepath.Join(cfg.Dir, cfg.Name+fileExt(cfg))
	data, err := os.ReadFile(name)
	if os.IsNotExist(err) {
		log.Info().Str("file", name).Msg("no snapshot file found")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot file: %w", err)
	}

	restored, err := Import(ctx, mem, clk, data)
	if err != nil {
		return restored, err
	}

	log.Info().
		Str("file", name).
		Int("restored", restored).
		Str("elapsed", time.Since(start).String()).
		Msg("snapshot restored")
	return restored, nil
}

func fileExt(cfg *config.SnapshotCfg) string {
	ext := ".snap"
	if cfg.Gzip {
		ext += ".gz"
	}
	return ext
}
