package room

import (
	"strconv"

	"github.com/google/uuid"
)

// tempNamespace scopes name-based temporary message ids.
var tempNamespace = uuid.MustParse("6f0c1d8e-3a4b-5c6d-8e9f-0a1b2c3d4e5f")

const tempIDPrefix = "tmp_"

// TempMessageID derives the id of a message that has not been acked yet.
// The result depends only on its inputs; seq keeps two identical texts in
// the same room apart.
func TempMessageID(roomID string, seq uint64, text string) string {
	name := roomID + "\x00" + strconv.FormatUint(seq, 10) + "\x00" + text
	return tempIDPrefix + uuid.NewSHA1(tempNamespace, []byte(name)).String()
}

// IsTempID reports whether id was produced by TempMessageID.
func IsTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}
