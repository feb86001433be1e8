package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the codec of an export bundle.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
)

// ParseCompression validates a codec name. An empty name means snappy.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionSnappy, nil
	case CompressionNone, CompressionSnappy, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Bundle is an exported game: its summary followed by its actions.
type Bundle struct {
	Game    GameSummary
	Actions []ActionEntry
}

// Export writes the game with the given id as a JSON-lines bundle: the
// summary on the first line and one action per following line.
func Export(ctx context.Context, store Store, gameID int64, w io.Writer, c Compression) error {
	games, err := store.ListGames(ctx)
	if err != nil {
		return err
	}

	var bundle Bundle
	found := false
	for _, g := range games {
		if g.ID == gameID {
			bundle.Game, found = g, true
			break
		}
	}

	actions, err := store.ListActions(ctx, gameID)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("game %d missing from listing", gameID)
	}

	bundle.Actions = actions
	return WriteBundle(w, bundle, c)
}

// WriteBundle encodes bundle to w with codec c.
func WriteBundle(w io.Writer, bundle Bundle, c Compression) error {
	out, closeFn, err := compressor(w, c)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if err := enc.Encode(bundle.Game); err != nil {
		_ = closeFn()
		return fmt.Errorf("failed to encode game summary: %w", err)
	}

	for _, a := range bundle.Actions {
		if err := enc.Encode(a); err != nil {
			_ = closeFn()
			return fmt.Errorf("failed to encode action: %w", err)
		}
	}

	if err := closeFn(); err != nil {
		return fmt.Errorf("failed to flush bundle: %w", err)
	}

	return nil
}

// Import decodes a bundle written by WriteBundle with the same codec.
func Import(r io.Reader, c Compression) (Bundle, error) {
	in, closeFn, err := decompressor(r, c)
	if err != nil {
		return Bundle{}, err
	}
	defer closeFn()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var bundle Bundle
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Bundle{}, err
		}

		return Bundle{}, errors.New("empty bundle")
	}

	if err := json.Unmarshal(scanner.Bytes(), &bundle.Game); err != nil {
		return Bundle{}, fmt.Errorf("failed to decode game summary: %w", err)
	}

	for scanner.Scan() {
		var a ActionEntry
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			return Bundle{}, fmt.Errorf("failed to decode action: %w", err)
		}

		if string(a.Payload) == "null" {
			a.Payload = nil
		}

		bundle.Actions = append(bundle.Actions, a)
	}

	if err := scanner.Err(); err != nil {
		return Bundle{}, err
	}

	return bundle, nil
}

func compressor(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionSnappy:
		sw := snappy.NewBufferedWriter(w)
		return sw, sw.Close, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}

		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown compression %q", c)
	}
}

func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionSnappy:
		return snappy.NewReader(r), func() {}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}

		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown compression %q", c)
	}
}
