package diff

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/mosaicnetworks/dsm/src/common"
)

func randomPage(r *rand.Rand) []byte {
	page := make([]byte, common.PageSize)
	r.Read(page)
	return page
}

func mutate(r *rand.Rand, page []byte, writes int) []byte {
	res := make([]byte, len(page))
	copy(res, page)
	for i := 0; i < writes; i++ {
		off := r.Intn(len(res))
		n := 1 + r.Intn(16)
		for j := off; j < off+n && j < len(res); j++ {
			res[j] ^= byte(1 + r.Intn(255))
		}
	}
	return res
}

func TestXBZRLERoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for _, writes := range []int{1, 2, 10, 50, 120} {
		old := randomPage(r)
		new := mutate(r, old, writes)

		dst := make([]byte, common.PageSize)
		n, err := EncodeBuffer(old, new, dst)
		if err != nil {
			t.Fatalf("writes=%d: encode: %v", writes, err)
		}

		out := make([]byte, len(old))
		copy(out, old)
		if _, err := DecodeBuffer(dst[:n], out); err != nil {
			t.Fatalf("writes=%d: decode: %v", writes, err)
		}

		if !bytes.Equal(out, new) {
			t.Fatalf("writes=%d: decoded page differs", writes)
		}
	}
}

func TestXBZRLEIdentical(t *testing.T) {
	page := randomPage(rand.New(rand.NewSource(1)))

	n, err := EncodeBuffer(page, page, make([]byte, 16))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if n != 0 {
		t.Fatalf("identical pages should encode to nothing, got %d bytes", n)
	}
}

func TestXBZRLEEdges(t *testing.T) {
	old := make([]byte, 32)
	new := make([]byte, 32)
	new[0] = 1
	new[31] = 2

	dst := make([]byte, 64)
	n, err := EncodeBuffer(old, new, dst)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	// (0, 1, 0x01) (30, 1, 0x02)
	exp := []byte{0, 1, 1, 30, 1, 2}
	if !bytes.Equal(dst[:n], exp) {
		t.Fatalf("bad encoding: %v, expected %v", dst[:n], exp)
	}
}

func TestXBZRLEOverflow(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	old := randomPage(r)
	new := make([]byte, len(old))
	for i := range old {
		new[i] = old[i] + 1
	}

	_, err := EncodeBuffer(old, new, make([]byte, common.PageSize))
	if err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	_, err = EncodeBuffer(old, new[:10], make([]byte, common.PageSize))
	if err != ErrSizeMismatch {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestXBZRLECorrupt(t *testing.T) {
	cases := map[string][]byte{
		"truncated zrun":    {0x80},
		"missing nzrun":     {4},
		"zero nzrun":        {0, 0},
		"nzrun past source": {0, 5, 1, 2},
		"zrun past page":    {0xff, 0x7f, 1, 1},
		"nzrun past page":   {30, 4, 1, 2, 3, 4},
	}

	for name, src := range cases {
		dst := make([]byte, 32)
		if _, err := DecodeBuffer(src, dst); err != ErrCorrupt {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}
