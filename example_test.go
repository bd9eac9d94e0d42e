package binmap_test

import (
	"fmt"

	"github.com/TomTonic/binmap"
	"github.com/TomTonic/binmap/bin"
)

func Example_basicUsage() {
	bm := binmap.New()
	bm.Set(bin.New(0, 3))
	bm.Set(bin.New(0, 4))

	fmt.Println(bm.Get(bin.New(0, 3)))
	fmt.Println(bm.Get(bin.New(0, 5)))
	// Output:
	// Filled
	// Empty
}

func Example_rangeSummary() {
	bm := binmap.New()
	for i := uint32(0); i < 8; i++ {
		bm.Set(bin.New(0, i))
	}

	fmt.Println(bm.Get(bin.New(3, 0)))

	bm.Reset(bin.New(0, 5))
	fmt.Println(bm.Get(bin.New(3, 0)))
	// Output:
	// Filled
	// Mixed
}

func Example_findEmpty() {
	bm := binmap.New()
	for i := uint32(0); i < 64; i++ {
		if i != 9 {
			bm.Set(bin.New(0, i))
		}
	}

	fmt.Println(bm.FindEmpty() == bin.New(0, 9))
	// Output:
	// true
}
