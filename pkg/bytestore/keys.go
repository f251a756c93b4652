package bytestore

import "strings"

const (
	primaryPrefix = "rec|"
	indexPrefix   = "idx|release|"
)

// primaryKey is (service, hash); matches CacheRecord's declared primary key.
func primaryKey(service, hash string) []byte {
	return []byte(primaryPrefix + service + "|" + hash)
}

func primaryKeyPrefix(service, hashPrefix string) []byte {
	return []byte(primaryPrefix + service + "|" + hashPrefix)
}

// indexKey lets CountsByRelease find rows for a (service, releaseKey)
// pair without a full table scan; Delete removes a row's index entry
// along with the row. The hash is appended so distinct rows never collide.
func indexKey(service, releaseKey, hash string) []byte {
	return []byte(indexPrefix + service + "|" + releaseKey + "|" + hash)
}

func indexKeyPrefix(service, releaseKey string) []byte {
	return []byte(indexPrefix + service + "|" + releaseKey + "|")
}

// hashFromIndexKey extracts the trailing hash segment from an index key
// produced by indexKey.
func hashFromIndexKey(key []byte) string {
	s := string(key)
	i := strings.LastIndex(s, "|")
	if i < 0 {
		return ""
	}
	return s[i+1:]
}
