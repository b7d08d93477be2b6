package zipwrite

import (
	"github.com/meigma/ixzip/internal/zipfmt"
	"github.com/meigma/ixzip/internal/ziptype"
)

const initialCentralCap = 64 << 10

// centralDirectory accumulates central records in memory until the archive
// is finished. Capacity doubles when a record does not fit.
type centralDirectory struct {
	buf     []byte
	records int
}

func (c *centralDirectory) add(meta *ziptype.EntryMeta) {
	need := len(c.buf) + zipfmt.CentralLen + len(meta.Name) + 28
	if need > cap(c.buf) {
		newCap := max(2*cap(c.buf), need, initialCentralCap)
		grown := make([]byte, len(c.buf), newCap)
		copy(grown, c.buf)
		c.buf = grown
	}
	c.buf = zipfmt.AppendCentral(c.buf, meta)
	c.records++
}

func (c *centralDirectory) bytes() []byte {
	return c.buf
}

func (c *centralDirectory) release() {
	c.buf = nil
}
