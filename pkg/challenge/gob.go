package challenge

import (
	"bytes"
	"encoding/gob"
)

func bytestoreEncode(v Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
