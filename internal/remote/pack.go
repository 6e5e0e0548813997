package remote

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const (
	layerTargetSize = 5 * 1024 * 1024
	layerSoftMax    = 10 * 1024 * 1024
)

// packObjects packs encoded objects into transfer layers of roughly
// layerTargetSize, ordered by identifier so equal object sets pack
// identically.
//
// Layer format, repeated per object:
//
//	{cidLen 2B}{cid}{dataLen 8B}{data}
func packObjects(objects map[string][]byte) [][]byte {
	cids := make([]string, 0, len(objects))
	for cid := range objects {
		cids = append(cids, cid)
	}
	sort.Strings(cids)

	var layers [][]byte
	var buf bytes.Buffer
	for _, cid := range cids {
		data := objects[cid]
		if buf.Len() > 0 && (buf.Len() >= layerTargetSize || buf.Len()+len(data) > layerSoftMax) {
			layers = append(layers, bytes.Clone(buf.Bytes()))
			buf.Reset()
		}
		binary.Write(&buf, binary.BigEndian, uint16(len(cid)))
		buf.WriteString(cid)
		binary.Write(&buf, binary.BigEndian, uint64(len(data)))
		buf.Write(data)
	}
	if buf.Len() > 0 {
		layers = append(layers, bytes.Clone(buf.Bytes()))
	}
	return layers
}

func unpackObjects(layer []byte) (map[string][]byte, error) {
	objects := make(map[string][]byte)
	r := bytes.NewReader(layer)

	for r.Len() > 0 {
		var cidLen uint16
		if err := binary.Read(r, binary.BigEndian, &cidLen); err != nil {
			return nil, fmt.Errorf("read cid length: %w", err)
		}
		cidBuf := make([]byte, cidLen)
		if _, err := io.ReadFull(r, cidBuf); err != nil {
			return nil, fmt.Errorf("read cid: %w", err)
		}

		var dataLen uint64
		if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
			return nil, fmt.Errorf("read data length: %w", err)
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}

		objects[string(cidBuf)] = data
	}
	return objects, nil
}
