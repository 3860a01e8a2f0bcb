package store

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"camrand/internal/shared/logger"
	"camrand/rngpool/model"
)

const (
	delimiter = "|"
	numFields = 3 // seq|created_unix|hex
)

// Store is the persistence contract of the buffer manager: blocks survive a
// process restart in FIFO order, and an acknowledged Append is durable.
type Store interface {
	Load() error
	Append(block *model.RandomBlock) error
	PopFront(n int) ([]*model.RandomBlock, error)
	Count() int
	LastCreated() (time.Time, bool)
}

// FileStore implements Store with a line-oriented text file. Appends go
// straight to disk and are synced; pops rewrite the file without the
// consumed head.
type FileStore struct {
	filePath  string
	blockSize int

	mu      sync.Mutex
	blocks  []*model.RandomBlock
	nextSeq uint64
}

// NewFileStore creates a store backed by filePath holding blocks of exactly
// blockSize bytes. Call Load before use.
func NewFileStore(filePath string, blockSize int) *FileStore {
	return &FileStore{filePath: filePath, blockSize: blockSize, nextSeq: 1}
}

// Load reads the buffer file into memory. A missing file means an empty
// buffer, not an error.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("RngPool/Store")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Buffer file not found, starting with an empty buffer.")
			return nil
		}
		return err
	}
	defer file.Close()

	var blocks []*model.RandomBlock
	var maxSeq uint64
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		block, err := parseBlock(line)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Skipping malformed line in buffer file.")
			continue
		}
		// A block persisted under a different block_size must never be
		// served: concatenation math assumes every block is full-size.
		if fs.blockSize > 0 && len(block.Bytes) != fs.blockSize {
			l.Warn().
				Int("line", lineNum).
				Int("got", len(block.Bytes)).
				Int("want", fs.blockSize).
				Msg("Skipping block with stale block size in buffer file.")
			continue
		}
		blocks = append(blocks, block)
		if block.Seq > maxSeq {
			maxSeq = block.Seq
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fs.blocks = blocks
	fs.nextSeq = maxSeq + 1
	l.Info().Int("count", len(blocks)).Msg("Loaded buffered blocks from file.")
	return nil
}

// Append assigns the next sequence number, persists the block and only then
// adds it to the in-memory queue. The sync is what makes enqueue durable.
func (fs *FileStore) Append(block *model.RandomBlock) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	block.Seq = fs.nextSeq

	file, err := os.OpenFile(fs.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.WriteString(formatBlock(block) + "\n"); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}

	fs.nextSeq++
	fs.blocks = append(fs.blocks, block)
	return nil
}

// PopFront removes and returns up to n blocks from the head of the queue.
// Popped blocks are deleted from disk and can never be served again.
func (fs *FileStore) PopFront(n int) ([]*model.RandomBlock, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if n > len(fs.blocks) {
		n = len(fs.blocks)
	}
	if n <= 0 {
		return nil, nil
	}

	popped := fs.blocks[:n]
	remaining := fs.blocks[n:]

	if err := fs.rewrite(remaining); err != nil {
		return nil, err
	}
	fs.blocks = remaining
	return popped, nil
}

// Count returns the number of buffered blocks.
func (fs *FileStore) Count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.blocks)
}

// LastCreated returns the creation time of the newest buffered block.
func (fs *FileStore) LastCreated() (time.Time, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.blocks) == 0 {
		return time.Time{}, false
	}
	return fs.blocks[len(fs.blocks)-1].CreatedAt, true
}

func (fs *FileStore) rewrite(blocks []*model.RandomBlock) error {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(formatBlock(b))
		sb.WriteString("\n")
	}
	return os.WriteFile(fs.filePath, []byte(sb.String()), 0600)
}

func formatBlock(b *model.RandomBlock) string {
	return strings.Join([]string{
		strconv.FormatUint(b.Seq, 10),
		strconv.FormatInt(b.CreatedAt.Unix(), 10),
		hex.EncodeToString(b.Bytes),
	}, delimiter)
}

func parseBlock(line string) (*model.RandomBlock, error) {
	fields := strings.Split(line, delimiter)
	if len(fields) != numFields {
		return nil, fmt.Errorf("expected %d fields, got %d", numFields, len(fields))
	}
	seq, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seq: %w", err)
	}
	createdUnix, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created: %w", err)
	}
	raw, err := hex.DecodeString(fields[2])
	if err != nil {
		return nil, fmt.Errorf("invalid block hex: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty block")
	}
	return &model.RandomBlock{
		Seq:       seq,
		CreatedAt: time.Unix(createdUnix, 0),
		Bytes:     raw,
	}, nil
}
