package websocket

import "unicode/utf8"

// utf8Validator incrementally validates a text message's payload as it
// is reassembled from fragments. A multi byte sequence may be split
// across frame boundaries so up to three trailing bytes are carried
// between pushes and only judged once the rest of the rune arrives or
// the message ends.
type utf8Validator struct {
	carry [3]byte
	n     int
}

func (v *utf8Validator) reset() {
	v.n = 0
}

// done reports whether the payload seen so far ends on a rune
// boundary. It must be true once the final fragment has been pushed.
func (v *utf8Validator) done() bool {
	return v.n == 0
}

// push validates the next chunk of payload and reports whether the
// payload is still plausibly valid UTF-8.
func (v *utf8Validator) push(p []byte) bool {
	if v.n > 0 {
		// Complete the carried rune with the first bytes of p.
		tmp := make([]byte, v.n, v.n+utf8.UTFMax)
		copy(tmp, v.carry[:v.n])
		take := len(p)
		if take > utf8.UTFMax {
			take = utf8.UTFMax
		}
		tmp = append(tmp, p[:take]...)

		r, size := utf8.DecodeRune(tmp)
		if r == utf8.RuneError && size <= 1 {
			if !incompleteRunePrefix(tmp) {
				return false
			}
			// Still incomplete, which is only possible if p was
			// tiny. Extend the carry.
			if v.n+len(p) > len(v.carry) {
				return false
			}
			copy(v.carry[:], tmp)
			v.n += len(p)
			return true
		}

		p = p[size-v.n:]
		v.n = 0
	}

	if utf8.Valid(p) {
		return true
	}

	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		if r == utf8.RuneError && size <= 1 {
			if incompleteRunePrefix(p) {
				v.n = copy(v.carry[:], p)
				return true
			}
			return false
		}
		p = p[size:]
	}
	return true
}

// incompleteRunePrefix reports whether b could be the truncated start
// of a multi byte rune. Prefixes that can never complete to a valid
// rune (overlong encodings, surrogates) are caught when the remaining
// bytes arrive or when the message ends mid rune.
func incompleteRunePrefix(b []byte) bool {
	if len(b) == 0 {
		return true
	}

	var size int
	switch c := b[0]; {
	case c&0x80 == 0:
		return false
	case c&0xe0 == 0xc0:
		size = 2
	case c&0xf0 == 0xe0:
		size = 3
	case c&0xf8 == 0xf0:
		size = 4
	default:
		return false
	}

	if len(b) >= size {
		return false
	}
	for _, c := range b[1:] {
		if c&0xc0 != 0x80 {
			return false
		}
	}
	return true
}
