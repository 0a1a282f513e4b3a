package node

import (
	"testing"

	"github.com/mosaicnetworks/dsm/src/common"
)

func TestInmemGuest(t *testing.T) {
	g := NewInmemGuest(4)

	page := fillPage(9)
	if err := g.WritePage(3, page); err != nil {
		t.Fatalf("err: %v", err)
	}
	checkPage(t, g, 3, page)
	checkPage(t, g, 2, make([]byte, common.PageSize))

	if err := g.WritePage(4, page); !common.Is(err, common.InvalidArgument) {
		t.Fatalf("err should be InvalidArgument, got %v", err)
	}
	if err := g.ReadPage(0, make([]byte, 10)); !common.Is(err, common.InvalidArgument) {
		t.Fatalf("err should be InvalidArgument, got %v", err)
	}
}
