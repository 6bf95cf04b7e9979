// Package vocabcache implements the binary candidate-cache codec:
// encoding and decoding the flat token array Candidate Extraction
// produces, so an out-of-scope file layer can persist and reload it
// across runs without re-running extraction every time. This package
// never touches a filesystem; it only reads/writes io.Reader/Writer.
package vocabcache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/subtok/vocab/pkg/vocab"
)

// Version is the exact magic string every cache must carry. A cache
// written by a different version is rejected outright rather than
// partially trusted.
const Version = "subtok-vocab-cache-v1"

// noParentWire is the on-disk sentinel for "no parent".
const noParentWire uint32 = 0xFFFFFFFF

// ErrCacheRejected wraps the reason a cache could not be loaded:
// version mismatch, truncation, or trailing bytes. Callers treat this
// as "re-run extraction", never as a fatal error.
var ErrCacheRejected = errors.New("vocabcache: cache rejected")

// Encode writes tokens to w in the cache's binary layout: the version
// string and its NUL, a u64 token count, then per-token (code point,
// uses) pairs, then per-token (left, right) parent index pairs.
//
// Only one use count is written per token since Candidate Extraction
// always seeds LeftUses and RightUses equal; Decode restores both
// from it. Encode is only meaningful on a freshly flattened token
// array, before the selector has mutated the use counts.
func Encode(w io.Writer, tokens []vocab.Token) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(Version); err != nil {
		return err
	}
	if err := bw.WriteByte(0); err != nil {
		return err
	}
	if err := writeUint64(bw, uint64(len(tokens))); err != nil {
		return err
	}

	var runeBuf [utf8.UTFMax]byte
	var varintBuf [binary.MaxVarintLen64]byte
	for i := range tokens {
		n := utf8.EncodeRune(runeBuf[:], tokens[i].Chr)
		if _, err := bw.Write(runeBuf[:n]); err != nil {
			return err
		}
		n = binary.PutUvarint(varintBuf[:], tokens[i].LeftUses())
		if _, err := bw.Write(varintBuf[:n]); err != nil {
			return err
		}
	}
	for i := range tokens {
		if err := writeUint32(bw, parentWire(tokens[i].LeftParent)); err != nil {
			return err
		}
		if err := writeUint32(bw, parentWire(tokens[i].RightParent)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads a cache written by Encode. It returns ErrCacheRejected
// (wrapping the underlying cause) on a version mismatch, a truncated
// stream, or unexpected trailing bytes after the last token.
func Decode(r io.Reader) ([]vocab.Token, error) {
	br := bufio.NewReader(r)

	versionBuf := make([]byte, len(Version)+1)
	if _, err := io.ReadFull(br, versionBuf); err != nil {
		return nil, fmt.Errorf("%w: reading version: %w", ErrCacheRejected, err)
	}
	if versionBuf[len(Version)] != 0 || string(versionBuf[:len(Version)]) != Version {
		return nil, fmt.Errorf("%w: version mismatch", ErrCacheRejected)
	}

	count, err := readUint64(br)
	if err != nil {
		return nil, fmt.Errorf("%w: reading token count: %w", ErrCacheRejected, err)
	}

	chrs := make([]rune, count)
	uses := make([]uint64, count)
	for i := uint64(0); i < count; i++ {
		chr, _, err := br.ReadRune()
		if err != nil {
			return nil, fmt.Errorf("%w: reading code point %d: %w", ErrCacheRejected, i, err)
		}
		chrs[i] = chr
		u, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading uses %d: %w", ErrCacheRejected, i, err)
		}
		uses[i] = u
	}

	tokens := make([]vocab.Token, count)
	for i := uint64(0); i < count; i++ {
		left, err := readUint32(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading left parent %d: %w", ErrCacheRejected, i, err)
		}
		right, err := readUint32(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading right parent %d: %w", ErrCacheRejected, i, err)
		}
		tokens[i] = vocab.NewToken(chrs[i], 0, parentFromWire(left), parentFromWire(right), uses[i])
	}

	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after last token", ErrCacheRejected)
	}

	fillLengths(tokens)
	return tokens, nil
}

// fillLengths backfills Token.Length, which the wire format omits.
// RightParent always names a strictly shorter token (the original
// minus its last code point) at a strictly smaller index, because
// trie.BuildTokens emits tokens in pre-order, so a single forward
// pass suffices: length(T) = 1 for a root, length(RightParent)+1
// otherwise.
func fillLengths(tokens []vocab.Token) {
	for i := range tokens {
		if tokens[i].RightParent == vocab.NoParent {
			tokens[i].Length = 1
			continue
		}
		tokens[i].Length = tokens[tokens[i].RightParent].Length + 1
	}
}

func parentWire(idx int32) uint32 {
	if idx == vocab.NoParent {
		return noParentWire
	}
	return uint32(idx)
}

func parentFromWire(w uint32) int32 {
	if w == noParentWire {
		return vocab.NoParent
	}
	return int32(w)
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

