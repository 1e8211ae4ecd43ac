package wire

// Decoder accumulates stream bytes across partial reads and yields whole messages.
// It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends bytes read from the stream.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next returns the next complete message, ErrIncomplete when more bytes are needed,
// or an ErrMalformed error. A malformed stream cannot be resynchronized.
func (d *Decoder) Next() (Message, error) {
	msg, n, err := DecodeFrame(d.buf)
	if err != nil {
		return nil, err
	}
	rest := len(d.buf) - n
	copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	return msg, nil
}
