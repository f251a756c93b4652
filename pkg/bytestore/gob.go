package bytestore

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// RegisterTypes registers every concrete type ever stored behind the
// interface{}-typed gob encoder used by this package and by pkg/memcache,
// which shares the same encoding. Call once at startup.
func RegisterTypes() {
	gob.Register(time.Time{})
	gob.Register(types.CacheRecord{})
	gob.Register([]types.Torrent{})
	gob.Register([]types.HttpStream{})
	gob.Register([]types.PersonalFile{})
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
