package synctree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Object encodings. A blob wraps file content, a manifest wraps a
// directory listing; both are content-addressed by their encoded form.
//
//	blob:     "blob {size}\x00{content}"
//	manifest: "tree {size}\x00{entries}"
//
// Entry format: {flags 1B}{size 8B}{cidLen 2B}{cid}{nameLen 2B}{name},
// entries ordered by the locale-aware name comparator so equal
// listings always produce equal identifiers.

const manifestFlagDir = 1

// ManifestEntry is one child entry of a directory manifest.
type ManifestEntry struct {
	Name string
	CID  CID
	Size int64
	Dir  bool
}

// EncodeBlob encodes file content as a blob object and returns its
// identifier alongside the encoded bytes.
func EncodeBlob(content []byte) (CID, []byte) {
	header := fmt.Sprintf("blob %d\x00", len(content))
	buf := make([]byte, len(header)+len(content))
	copy(buf, header)
	copy(buf[len(header):], content)
	return SumCID(buf), buf
}

// EncodeManifest encodes directory entries as a manifest object. The
// entry slice is sorted in place.
func EncodeManifest(entries []ManifestEntry) (CID, []byte) {
	sort.Slice(entries, func(i, j int) bool {
		return CompareNames(entries[i].Name, entries[j].Name) < 0
	})

	var body bytes.Buffer
	for _, e := range entries {
		flags := byte(0)
		if e.Dir {
			flags = manifestFlagDir
		}
		body.WriteByte(flags)
		binary.Write(&body, binary.BigEndian, uint64(e.Size))
		binary.Write(&body, binary.BigEndian, uint16(len(e.CID)))
		body.WriteString(string(e.CID))
		binary.Write(&body, binary.BigEndian, uint16(len(e.Name)))
		body.WriteString(e.Name)
	}

	data := body.Bytes()
	header := fmt.Sprintf("tree %d\x00", len(data))
	buf := make([]byte, len(header)+len(data))
	copy(buf, header)
	copy(buf[len(header):], data)
	return SumCID(buf), buf
}

// DecodeManifest decodes the body of a manifest object (the bytes
// after its header).
func DecodeManifest(body []byte) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	r := bytes.NewReader(body)

	for r.Len() > 0 {
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, err
		}

		var cidLen uint16
		if err := binary.Read(r, binary.BigEndian, &cidLen); err != nil {
			return nil, err
		}
		cidBuf := make([]byte, cidLen)
		if _, err := io.ReadFull(r, cidBuf); err != nil {
			return nil, err
		}

		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, err
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, err
		}

		entries = append(entries, ManifestEntry{
			Name: string(nameBuf),
			CID:  CID(cidBuf),
			Size: int64(size),
			Dir:  flags&manifestFlagDir != 0,
		})
	}

	return entries, nil
}

// ParseObject splits an encoded object into its kind and payload.
func ParseObject(data []byte) (dir bool, content []byte, err error) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return false, nil, fmt.Errorf("invalid object: missing null terminator")
	}
	header := string(data[:idx])
	content = data[idx+1:]
	switch {
	case bytes.HasPrefix(data, []byte("blob ")):
		return false, content, nil
	case bytes.HasPrefix(data, []byte("tree ")):
		return true, content, nil
	default:
		return false, nil, fmt.Errorf("unknown object type: %q", header)
	}
}
