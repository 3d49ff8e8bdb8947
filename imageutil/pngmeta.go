package imageutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

var ErrNotPNG = errors.New("not a valid PNG file")

// maxChunkLength is the largest chunk length a PNG may declare.
const maxChunkLength = 1<<31 - 1

// PNGTextChunks returns the keyword/text pairs of every tEXt chunk in the
// stream. The executor stores the submitted graph there, under "prompt".
func PNGTextChunks(r io.Reader) (map[string]string, error) {
	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, ErrNotPNG
	}

	chunks := make(map[string]string)
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if length > maxChunkLength {
			return nil, fmt.Errorf("%w: chunk length %d exceeds %d", ErrNotPNG, length, maxChunkLength)
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "tEXt":
			data, err := io.ReadAll(io.LimitReader(r, int64(length)))
			if err != nil {
				return nil, err
			}
			if len(data) != int(length) {
				return nil, io.ErrUnexpectedEOF
			}
			keywordEnd := bytes.IndexByte(data, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			chunks[string(data[:keywordEnd])] = string(data[keywordEnd+1:])
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
		if string(chunkType) == "IEND" {
			break
		}
	}
	return chunks, nil
}

func PNGTextChunksFromFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return PNGTextChunks(f)
}
