package aptidx

import (
	"encoding/hex"
	"fmt"

	"github.com/zextras/reposync/reposync"
)

// decodeHex builds a Digest from a hex checksum string and a known algorithm.
func decodeHex(algo reposync.Algorithm, checksum string) (reposync.Digest, error) {
	b, err := hex.DecodeString(checksum)
	if err != nil {
		return reposync.Digest{}, fmt.Errorf("aptidx: bad hex checksum %q: %w", checksum, err)
	}
	return reposync.Digest{Algo: algo, Checksum: b}, nil
}
