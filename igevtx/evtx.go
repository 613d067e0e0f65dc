package igevtx

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"
)

// File format constants assumed, but not independently verified, by
// the decoder.
const (
	fileHeaderMagic  = "ElfFile\x00"
	chunkHeaderMagic = "ElfChnk\x00"
	fileVersion      = uint32(0x00030001)
	chunkSize        = 0x10000
	recordMagic      = uint32(0x00002A2A)
	recordHeaderSize = 24 // magic(4) + size(4) + number(8) + timestamp(8)
	chunkHeaderSize  = 0x200
)

type fileHeaderRaw struct {
	Magic           [8]byte
	ChunksAllocated uint64
	ChunksUsed      uint64
	Checksum        uint64
	Flags           uint32
	Version         uint32
	FileSize        uint64
	_               [0x1000 - 0x30]byte
}

// ChunkHeader carries the fields of a chunk header that decoding
// actually needs: its magic and the live record-number range used to
// decide whether a failing record aborts the chunk or just ends it.
type ChunkHeader struct {
	Magic             [8]byte
	FirstRecordNumber uint64
	LastRecordNumber  uint64
	_                 uint64
	_                 uint64
	HeaderSize        uint32
	_                 [0x80 - 0x2C]byte
	_                 [0x200 - 0x80]byte
}

type recordHeaderRaw struct {
	Magic     uint32
	Size      uint32
	Number    uint64
	Timestamp uint64
}

// EventHandler receives one successfully decoded record's timestamp,
// record number, and emitted key/value pairs.
type EventHandler func(when time.Time, number uint64, fields *ordereddict.Dict)

// timeFromFileTime converts a Windows FILETIME record timestamp to a
// UTC time.Time.
func timeFromFileTime(ft uint64) time.Time {
	if ft < filetimeEpochDiff {
		return time.Unix(0, 0).UTC()
	}
	unixSeconds := (int64(ft) - filetimeEpochDiff) / 10000000
	return time.Unix(unixSeconds, 0).UTC()
}

// ParseFile opens an EVTX file, verifies its header, and decodes every
// chunk and record in order, invoking handler for each record that
// decodes successfully. tables supplies the EventID/LogonType lookup
// tables the argument binder annotates values with.
func ParseFile(path string, tables *Tables, handler EventHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	var header fileHeaderRaw
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return errors.Wrap(err, "read file header")
	}
	if string(header.Magic[:]) != fileHeaderMagic {
		return errors.Errorf("file magic mismatch: got %q", header.Magic)
	}
	if header.Version != fileVersion {
		return errors.Errorf("unsupported EVTX version 0x%08X", header.Version)
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read chunk")
		}
		if n != chunkSize {
			return errors.Errorf("short chunk read: got %d bytes", n)
		}

		if err := decodeChunk(buf, tables, handler); err != nil {
			return err
		}
	}
	return nil
}

// decodeChunk decodes every record in one chunk: a failing record
// inside the chunk's live record-number range aborts the chunk with an
// error, while a failure past the end of live records (leftover bytes
// from a recycled chunk) terminates the chunk cleanly.
func decodeChunk(data []byte, tables *Tables, handler EventHandler) error {
	var header ChunkHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return errors.Wrap(err, "read chunk header")
	}
	if string(header.Magic[:]) != chunkHeaderMagic {
		if header.Magic == ([8]byte{}) {
			return nil // empty, never-used chunk
		}
		return errors.Errorf("chunk magic mismatch: got %q", header.Magic)
	}

	chunk := NewChunk(data)
	registry := NewTemplateRegistry()
	decoder := NewDecoder(chunk, registry, tables)

	offset := uint32(chunkHeaderSize)
	for {
		if int(offset)+recordHeaderSize > len(data) {
			break
		}
		var rh recordHeaderRaw
		if err := binary.Read(bytes.NewReader(data[offset:offset+recordHeaderSize]), binary.LittleEndian, &rh); err != nil {
			break
		}
		if rh.Magic != recordMagic {
			break // leftovers from previously recycled records
		}
		if rh.Size < recordHeaderSize {
			return errors.New("record size smaller than its own header")
		}
		if int(offset+rh.Size) > len(data) {
			return errors.New("record size runs past chunk end")
		}

		emitter := NewDictEmitter()
		err := decoder.DecodeRecord(offset+recordHeaderSize, rh.Size-recordHeaderSize, emitter)
		if err != nil {
			if rh.Number >= header.FirstRecordNumber && rh.Number <= header.LastRecordNumber {
				return errors.Wrapf(err, "record %d", rh.Number)
			}
			break
		}

		handler(timeFromFileTime(rh.Timestamp), rh.Number, emitter.Dict)
		offset += rh.Size
	}
	return nil
}
