package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// HeaderSize is kind(1) + payload length(4).
	HeaderSize = 5
	// MaxPayload bounds a single frame so a hostile length cannot force a huge allocation.
	MaxPayload = 64 << 10
)

var (
	ErrIncomplete = errors.New("incomplete frame")
	ErrMalformed  = errors.New("malformed frame")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Encode serializes msg into a complete frame.
func Encode(msg Message) ([]byte, error) {
	var payload []byte
	switch m := msg.(type) {
	case Start:
		p, err := encodeStart(m)
		if err != nil {
			return nil, err
		}
		payload = p
	case *Start:
		return Encode(*m)
	case Move:
		p, err := encodeMove(m)
		if err != nil {
			return nil, err
		}
		payload = p
	case *Move:
		return Encode(*m)
	case End:
		p, err := encodeEnd(m)
		if err != nil {
			return nil, err
		}
		payload = p
	case *End:
		return Encode(*m)
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = append(frame, byte(msg.Kind()))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...), nil
}

func encodeStart(m Start) ([]byte, error) {
	b := []byte{boolByte(m.IsWhite)}
	var err error
	if b, err = appendOptString(b, m.Name); err != nil {
		return nil, fmt.Errorf("encode start name: %w", err)
	}
	if b, err = appendOptString(b, m.FEN); err != nil {
		return nil, fmt.Errorf("encode start fen: %w", err)
	}
	if b, err = appendOptMillis(b, m.Time); err != nil {
		return nil, fmt.Errorf("encode start time: %w", err)
	}
	if b, err = appendOptMillis(b, m.Inc); err != nil {
		return nil, fmt.Errorf("encode start inc: %w", err)
	}
	return b, nil
}

func encodeMove(m Move) ([]byte, error) {
	if !m.From.Valid() || !m.To.Valid() {
		return nil, fmt.Errorf("encode move: position out of range %v -> %v", m.From, m.To)
	}
	b := []byte{m.From.X, m.From.Y, m.To.X, m.To.Y}
	if m.Promotion == NoPiece {
		b = append(b, 0)
	} else {
		if !m.Promotion.Promotable() {
			return nil, fmt.Errorf("encode move: invalid promotion %v", m.Promotion)
		}
		b = append(b, 1, m.Promotion.wireCode())
	}
	return append(b, boolByte(m.Forfeit), boolByte(m.OfferDraw)), nil
}

func encodeEnd(m End) ([]byte, error) {
	if !m.Reason.Valid() {
		return nil, fmt.Errorf("encode end: invalid reason %d", m.Reason)
	}
	b := []byte{byte(m.Reason)}
	if m.Winner == nil {
		return append(b, 0), nil
	}
	if !m.Winner.Valid() {
		return nil, fmt.Errorf("encode end: invalid winner %d", *m.Winner)
	}
	return append(b, 1, byte(*m.Winner)), nil
}

func appendOptString(b []byte, s *string) ([]byte, error) {
	if s == nil {
		return append(b, 0), nil
	}
	if len(*s) > math.MaxUint16 {
		return nil, fmt.Errorf("string too long: %d bytes", len(*s))
	}
	b = append(b, 1)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(*s)))
	return append(b, *s...), nil
}

func appendOptMillis(b []byte, d *time.Duration) ([]byte, error) {
	if d == nil {
		return append(b, 0), nil
	}
	ms := d.Milliseconds()
	if ms < 0 || ms > math.MaxUint32 {
		return nil, fmt.Errorf("duration out of range: %s", *d)
	}
	b = append(b, 1)
	return binary.LittleEndian.AppendUint32(b, uint32(ms)), nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// DecodeFrame decodes the first frame in b and reports how many bytes it used.
// It returns ErrIncomplete when b does not yet hold a whole frame.
func DecodeFrame(b []byte) (Message, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrIncomplete
	}
	kind := Kind(b[0])
	if kind != KindStart && kind != KindMove && kind != KindEnd {
		return nil, 0, malformed("unknown kind 0x%02x", b[0])
	}
	if len(b) < HeaderSize {
		return nil, 0, ErrIncomplete
	}
	size := binary.LittleEndian.Uint32(b[1:HeaderSize])
	if size > MaxPayload {
		return nil, 0, malformed("payload of %d bytes exceeds limit", size)
	}
	total := HeaderSize + int(size)
	if len(b) < total {
		return nil, 0, ErrIncomplete
	}
	r := &payloadReader{b: b[HeaderSize:total]}
	var msg Message
	switch kind {
	case KindStart:
		msg = r.start()
	case KindMove:
		msg = r.move()
	case KindEnd:
		msg = r.end()
	}
	if r.err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", kind, r.err)
	}
	if r.off != len(r.b) {
		return nil, 0, fmt.Errorf("decode %s: %w", kind, malformed("%d trailing bytes", len(r.b)-r.off))
	}
	return msg, total, nil
}

// Decode decodes exactly one frame; extra bytes after it are malformed.
func Decode(b []byte) (Message, error) {
	msg, n, err := DecodeFrame(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, malformed("%d bytes after frame", len(b)-n)
	}
	return msg, nil
}

// payloadReader walks a payload; the first failure sticks in err.
type payloadReader struct {
	b   []byte
	off int
	err error
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b)-r.off < n {
		r.err = malformed("payload truncated at offset %d", r.off)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *payloadReader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *payloadReader) flag(field string) bool {
	v := r.u8()
	if r.err == nil && v > 1 {
		r.err = malformed("%s: bad flag byte %d", field, v)
	}
	return v == 1
}

func (r *payloadReader) optString(field string) *string {
	if !r.flag(field) {
		return nil
	}
	lb := r.take(2)
	if lb == nil {
		return nil
	}
	s := r.take(int(binary.LittleEndian.Uint16(lb)))
	if s == nil {
		return nil
	}
	v := string(s)
	return &v
}

func (r *payloadReader) optMillis(field string) *time.Duration {
	if !r.flag(field) {
		return nil
	}
	b := r.take(4)
	if b == nil {
		return nil
	}
	d := time.Duration(binary.LittleEndian.Uint32(b)) * time.Millisecond
	return &d
}

func (r *payloadReader) position(field string) Position {
	p := Position{X: r.u8(), Y: r.u8()}
	if r.err == nil && !p.Valid() {
		r.err = malformed("%s: coordinate out of range (%d,%d)", field, p.X, p.Y)
	}
	return p
}

func (r *payloadReader) start() Start {
	return Start{
		IsWhite: r.flag("is_white"),
		Name:    r.optString("name"),
		FEN:     r.optString("fen"),
		Time:    r.optMillis("time"),
		Inc:     r.optMillis("inc"),
	}
}

func (r *payloadReader) move() Move {
	m := Move{From: r.position("from"), To: r.position("to")}
	if r.flag("promotion") {
		m.Promotion = pieceFromWire(r.u8())
		if r.err == nil && !m.Promotion.Promotable() {
			r.err = malformed("promotion: bad piece %d", m.Promotion)
		}
	}
	m.Forfeit = r.flag("forfeit")
	m.OfferDraw = r.flag("offer_draw")
	return m
}

func (r *payloadReader) end() End {
	e := End{Reason: Reason(r.u8())}
	if r.err == nil && !e.Reason.Valid() {
		r.err = malformed("reason: bad value %d", e.Reason)
	}
	if r.flag("winner") {
		c := Color(r.u8())
		if r.err == nil && !c.Valid() {
			r.err = malformed("winner: bad color %d", c)
		}
		e.Winner = &c
	}
	return e
}
