package transform

import (
	"bytes"
	"encoding/gob"
)

func encodeMemoEntry(e memoEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMemoEntry(data []byte) (memoEntry, error) {
	var e memoEntry
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e)
	return e, err
}
