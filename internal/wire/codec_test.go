package wire

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"start_absent", Start{}},
		{"start_black_absent", Start{IsWhite: false}},
		{"start_present", Start{
			IsWhite: true,
			Name:    Opt("Alice"),
			FEN:     Opt("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"),
			Time:    Opt(3 * time.Minute),
			Inc:     Opt(2 * time.Second),
		}},
		{"start_empty_strings", Start{Name: Opt(""), FEN: Opt(""), Time: Opt(time.Duration(0)), Inc: Opt(time.Duration(0))}},
		{"move_plain", Move{From: Position{4, 1}, To: Position{4, 3}}},
		{"move_promotion", Move{From: Position{0, 6}, To: Position{0, 7}, Promotion: Queen}},
		{"move_corners", Move{From: Position{7, 7}, To: Position{0, 0}, Promotion: Knight}},
		{"move_forfeit", Move{Forfeit: true}},
		{"move_draw", Move{OfferDraw: true}},
		{"end_no_winner", End{Reason: ReasonDrawAgreed}},
		{"end_winner", End{Reason: ReasonDisconnect, Winner: Opt(Black)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if Kind(frame[0]) != tc.msg.Kind() {
				t.Fatalf("tag = 0x%02x, want %v", frame[0], tc.msg.Kind())
			}
			got, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tc.msg) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, tc.msg)
			}
		})
	}
}

func TestMoveFrameLayout(t *testing.T) {
	frame, err := Encode(Move{From: Position{4, 1}, To: Position{4, 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x02, 7, 0, 0, 0, 4, 1, 4, 3, 0, 0, 0}
	if !reflect.DeepEqual(frame, want) {
		t.Fatalf("frame = %v, want %v", frame, want)
	}
	if len(frame) > 16 {
		t.Fatalf("move frame is %d bytes", len(frame))
	}
}

func TestPromotionWireNumbering(t *testing.T) {
	frame, err := Encode(Move{From: Position{0, 6}, To: Position{0, 7}, Promotion: Queen})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame[9] != 1 || frame[10] != 4 {
		t.Fatalf("promotion bytes = %v, want [1 4]", frame[9:11])
	}
}

func TestDecodeRejectsOutOfRangePosition(t *testing.T) {
	frame := []byte{0x02, 7, 0, 0, 0, 8, 1, 4, 3, 0, 0, 0}
	if _, err := Decode(frame); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	frame = []byte{0x02, 7, 0, 0, 0, 4, 1, 4, 200, 0, 0, 0}
	if _, err := Decode(frame); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for to.y, got %v", err)
	}
}

func TestEncodeRejectsInvalidMessages(t *testing.T) {
	if _, err := Encode(Move{From: Position{9, 0}}); err == nil {
		t.Fatalf("expected error for out-of-range from")
	}
	if _, err := Encode(Move{Promotion: King}); err == nil {
		t.Fatalf("expected error for king promotion")
	}
	if _, err := Encode(End{}); err == nil {
		t.Fatalf("expected error for zero reason")
	}
	if _, err := Encode(Start{Time: Opt(-time.Second)}); err == nil {
		t.Fatalf("expected error for negative time")
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	full, _ := Encode(Start{Name: Opt("bob")})
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrIncomplete},
		{"header_only_kind", []byte{0x01}, ErrIncomplete},
		{"short_payload", full[:len(full)-1], ErrIncomplete},
		{"unknown_tag", []byte{0x7f, 0, 0, 0, 0}, ErrMalformed},
		{"unknown_tag_single_byte", []byte{0x00}, ErrMalformed},
		{"oversized", []byte{0x01, 0xff, 0xff, 0xff, 0x00}, ErrMalformed},
		{"bad_bool", []byte{0x02, 7, 0, 0, 0, 4, 1, 4, 3, 0, 2, 0}, ErrMalformed},
		{"bad_presence", []byte{0x01, 5, 0, 0, 0, 0, 3, 0, 0, 0}, ErrMalformed},
		{"trailing_payload", []byte{0x03, 3, 0, 0, 0, 1, 0, 9}, ErrMalformed},
		{"truncated_payload", []byte{0x02, 2, 0, 0, 0, 4, 1}, ErrMalformed},
		{"bad_promotion", []byte{0x02, 8, 0, 0, 0, 4, 6, 4, 7, 1, 6, 0, 0}, ErrMalformed},
		{"pawn_promotion", []byte{0x02, 8, 0, 0, 0, 4, 6, 4, 7, 1, 0, 0, 0}, ErrMalformed},
		{"bad_reason", []byte{0x03, 2, 0, 0, 0, 0, 0}, ErrMalformed},
		{"bad_winner", []byte{0x03, 3, 0, 0, 0, 1, 1, 5}, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeFrame(tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("DecodeFrame(%v) error = %v, want %v", tc.in, err, tc.want)
			}
		})
	}
}

func TestDecodeFrameReportsConsumed(t *testing.T) {
	a, _ := Encode(Move{From: Position{1, 0}, To: Position{2, 2}})
	b, _ := Encode(End{Reason: ReasonTimeout, Winner: Opt(White)})
	buf := append(append([]byte{}, a...), b...)
	msg, n, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != len(a) {
		t.Fatalf("consumed %d, want %d", n, len(a))
	}
	if _, ok := msg.(Move); !ok {
		t.Fatalf("expected Move, got %T", msg)
	}
	if _, err := Decode(buf); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode with two frames should be malformed, got %v", err)
	}
}
