package buffer

// Cursor walks a Buffer forward one word at a time. Patch routines that scan
// instruction streams use it instead of raw offset arithmetic.
type Cursor struct {
	buf *Buffer
	pos int
}

// Cursor returns a cursor positioned at off.
func (b *Buffer) Cursor(off int) *Cursor {
	return &Cursor{buf: b, pos: off}
}

// Offset returns the current position relative to the start of the buffer.
func (c *Cursor) Offset() int {
	return c.pos
}

// Valid reports whether a full word can be read at the current position.
func (c *Cursor) Valid() bool {
	return c.buf.Contains(c.pos, 4)
}

// Word reads the word under the cursor.
func (c *Cursor) Word() (uint32, error) {
	return c.buf.Uint32(c.pos)
}

// SetWord overwrites the word under the cursor.
func (c *Cursor) SetWord(v uint32) error {
	return c.buf.PutUint32(c.pos, v)
}

// Next advances the cursor by one word.
func (c *Cursor) Next() {
	c.pos += 4
}

// Seek moves the cursor by delta bytes.
func (c *Cursor) Seek(delta int) {
	c.pos += delta
}
