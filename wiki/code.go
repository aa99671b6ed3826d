package wiki

import (
	"fmt"
	"hash/fnv"
	"io"
)

// Code maps a client address to its contributor code: four octal
// digits derived from a 32-bit hash of the address. The code is stable
// per address and deliberately low entropy, so unrelated contributors
// may share one. It is the only identifier the wiki ever surfaces;
// addresses themselves are not stored.
func Code(addr string) string {
	h := fnv.New32a()
	io.WriteString(h, addr)
	return fmt.Sprintf("%04o", h.Sum32()%(8*8*8*8))
}
