// Package recorderservice batches context-tree node records into
// delta-encoded, LZ4-compressed blocks and writes them to disk: a
// write_record sink that preserves the node-publication-before-record
// ordering invariant nodes must satisfy before a snapshot can reference
// them.
//
// Node ids are dense and monotonically assigned, so the id column
// delta-encodes into small, repetitive values that LZ4 block compression
// shrinks well; attribute and parent columns are compressed as-is.
package recorderservice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/safeconv"
)

// Config controls where and how often blocks are flushed.
type Config struct {
	// Directory is where compressed blocks are written. Created if
	// missing.
	Directory string

	// FilePattern is an fmt.Sprintf pattern taking one int (the block
	// sequence number), e.g. "snapshot-%d.cali.lz4".
	FilePattern string

	// BatchSize is how many node records accumulate before a block is
	// flushed automatically. Defaults to 256.
	BatchSize int
}

const defaultBatchSize = 256

// Service buffers WriteRecord node columns and flushes them as
// delta-encoded, LZ4-compressed blocks.
type Service struct {
	cfg Config

	mu       sync.Mutex
	ids      []uint32
	attrIDs  []uint32
	parents  []uint32
	valueLog bytes.Buffer
	seq      int
}

// New constructs a Service writing blocks under cfg.Directory.
func New(cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	return &Service{cfg: cfg}
}

// Register returns a caliper.ServiceFunc that subscribes s to rt's event
// bus, suitable for caliper.RegisterService.
func (s *Service) Register() caliper.ServiceFunc {
	return func(rt *caliper.Runtime) {
		rt.Events().OnWriteRecord(s.observe)
		rt.Events().OnFinish(func() { _ = s.Flush() })
	}
}

func (s *Service) observe(n *ctxtree.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = append(s.ids, safeconv.MustUint64ToUint32(n.ID()))
	s.attrIDs = append(s.attrIDs, safeconv.MustUint64ToUint32(n.AttributeID()))

	parentID := uint64(0)
	if n.Parent() != nil {
		parentID = n.Parent().ID()
	}

	s.parents = append(s.parents, safeconv.MustUint64ToUint32(parentID))
	fmt.Fprintf(&s.valueLog, "%d\t%s\n", n.ID(), n.Value().String())

	if len(s.ids) >= s.cfg.BatchSize {
		s.flushLocked()
	}
}

// Flush writes any buffered node records as one block, even if BatchSize
// has not been reached. Safe to call concurrently with observe.
func (s *Service) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

func (s *Service) flushLocked() error {
	if len(s.ids) == 0 {
		return nil
	}

	if s.cfg.Directory != "" {
		if err := os.MkdirAll(s.cfg.Directory, 0o750); err != nil {
			return fmt.Errorf("recorderservice: create directory: %w", err)
		}
	}

	ids := append([]uint32(nil), s.ids...)
	deltaEncode(ids)

	idBlock := compress(ids)
	attrBlock := compress(s.attrIDs)
	parentBlock := compress(s.parents)

	name := fmt.Sprintf(s.cfg.FilePattern, s.seq)
	path := filepath.Join(s.cfg.Directory, name)

	var out bytes.Buffer

	writeBlock(&out, idBlock)
	writeBlock(&out, attrBlock)
	writeBlock(&out, parentBlock)
	writeBlock(&out, s.valueLog.Bytes())

	if err := os.WriteFile(path, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("recorderservice: write block: %w", err)
	}

	s.seq++
	s.ids = s.ids[:0]
	s.attrIDs = s.attrIDs[:0]
	s.parents = s.parents[:0]
	s.valueLog.Reset()

	return nil
}

func writeBlock(out *bytes.Buffer, block []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(block)))
	out.Write(lenBuf[:])
	out.Write(block)
}

// deltaEncode replaces each element with the difference from its
// predecessor, in place. Node ids are monotonic, so this produces small,
// repetitive values that LZ4 compresses well.
func deltaEncode(data []uint32) {
	for i := len(data) - 1; i > 0; i-- {
		data[i] -= data[i-1]
	}
}

// compress serializes data as little-endian uint32s and LZ4-compresses
// the result, matching CompressUInt32Slice's framing.
func compress(data []uint32) []byte {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		return nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(buf.Len()))

	written, err := lz4.CompressBlock(buf.Bytes(), compressed, nil)
	if err != nil || written == 0 {
		return nil
	}

	return compressed[:written]
}
