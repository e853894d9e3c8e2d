package quarantine

// Permutation is the RC4 S-box together with the two PRGA indices.
// A Permutation belongs to one decode call and must not be shared.
type Permutation struct {
	s    [256]byte
	i, j byte
}

// Schedule runs the key-scheduling pass over key and returns a fresh
// Permutation positioned at the start of the keystream.
func Schedule(key *[256]byte) *Permutation {
	p := &Permutation{}
	for i := 0; i < 256; i++ {
		p.s[i] = byte(i)
	}

	var j byte
	for i := 0; i < 256; i++ {
		j += p.s[i] + key[i]
		p.s[i], p.s[j] = p.s[j], p.s[i]
	}
	return p
}

// State returns a copy of the current S-box.
func (p *Permutation) State() [256]byte {
	return p.s
}

// XORKeyStream sets dst to src XORed with the keystream. dst and src must
// overlap entirely or not at all. The S-box keeps evolving across calls, so
// splitting a buffer over several calls gives the same result as one call.
func (p *Permutation) XORKeyStream(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	_ = dst[len(src)-1]

	i, j := p.i, p.j
	for k, v := range src {
		i++
		x := p.s[i]
		j += x
		y := p.s[j]
		p.s[i], p.s[j] = y, x
		dst[k] = v ^ p.s[x+y]
	}
	p.i, p.j = i, j
}

// Decrypt returns a new buffer holding data XORed with the keystream of p.
// Encryption is the same operation.
func Decrypt(p *Permutation, data []byte) []byte {
	out := make([]byte, len(data))
	p.XORKeyStream(out, data)
	return out
}
