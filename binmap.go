// Package binmap implements a compact, self-packing, dynamically
// expanding tree recording the membership state (empty or filled) of
// every leaf of a conceptual complete binary tree. It is the core
// building block of content-availability tracking for Merkle-tree
// chunked content -- one leaf per chunk -- but nothing in this package
// is specific to that use: leaves are addressed purely by bin.Bin
// values.
//
// A Binmap is single-threaded mutable state: no method blocks,
// allocates concurrently-visible state, or is safe for concurrent use
// without external synchronization.
package binmap

import (
	"unsafe"

	"github.com/TomTonic/binmap/bin"
)

// Binmap is a mutable set of leaves over a conceptual complete binary
// tree. The zero value is not usable; construct one with New.
type Binmap struct {
	cells        []cell
	blocksNumber uint64
	cellsNumber  uint64
	freeTop      uint32
	rootBin      bin.Bin
}

// New returns an empty binmap: every leaf under its initial root is
// empty, one cell is allocated, and root_bin covers the first 64
// leaves (bin value 63).
func New() *Binmap {
	bm := &Binmap{rootBin: bin.New(6, 0)}
	ref := bm.allocCell()
	if ref != rootRef {
		panic("binmap: initial allocation did not return the root cell")
	}
	return bm
}

// CellsNumber reports the number of cells currently reachable from the
// root (i.e. in use, not on the free list).
func (bm *Binmap) CellsNumber() uint64 {
	return bm.cellsNumber
}

// BlocksNumber reports the number of 16-cell blocks allocated so far.
func (bm *Binmap) BlocksNumber() uint64 {
	return bm.blocksNumber
}

// TotalSize estimates the memory footprint of the binmap in bytes:
// the struct itself plus its backing cell array.
func (bm *Binmap) TotalSize() uint64 {
	return uint64(unsafe.Sizeof(*bm)) + 16*uint64(unsafe.Sizeof(cell{}))*bm.blocksNumber
}

// RootBin returns the largest bin the binmap currently covers. It only
// ever grows across the lifetime of a Binmap.
func (bm *Binmap) RootBin() bin.Bin {
	return bm.rootBin
}

// Get classifies the subtree under b. A bin outside root_bin's
// coverage is considered Empty, since it has never been observed.
func (bm *Binmap) Get(b bin.Bin) Fill {
	if !bm.rootBin.Contains(b) {
		return Empty
	}

	curRef := rootRef
	curBin := bm.rootBin
	for b != curBin {
		if b < curBin {
			if !bm.cells[curRef].isLeftRef {
				break
			}
			curRef = bm.cells[curRef].left.ref
			curBin = curBin.Left()
		} else {
			if !bm.cells[curRef].isRightRef {
				break
			}
			curRef = bm.cells[curRef].right.ref
			curBin = curBin.Right()
		}
	}

	if b.LayerBits() > bitmapLayerBits {
		if b == curBin {
			c := bm.cells[curRef]
			if !c.isLeftRef && !c.isRightRef {
				if c.left.bitmap == bitmapFilled && c.right.bitmap == bitmapFilled {
					return Filled
				}
				if c.left.bitmap == bitmapEmpty && c.right.bitmap == bitmapEmpty {
					return Empty
				}
			}
			return Mixed
		}
		if b < curBin {
			return classifyBitmap(bm.cells[curRef].left.bitmap)
		}
		return classifyBitmap(bm.cells[curRef].right.bitmap)
	}

	mask := bitmapTable[bitmapLayerBits&uint32(b)]
	if b < curBin {
		return classifyMasked(mask, bm.cells[curRef].left.bitmap)
	}
	return classifyMasked(mask, bm.cells[curRef].right.bitmap)
}

// IsFilled is a boolean convenience over Get: true iff every leaf
// under b is filled.
func (bm *Binmap) IsFilled(b bin.Bin) bool {
	return bm.Get(b) == Filled
}

// Set marks every leaf under b filled. A no-op on bin.None.
func (bm *Binmap) Set(b bin.Bin) {
	bm.apply(b, true)
}

// Reset marks every leaf under b empty. A no-op on bin.None.
func (bm *Binmap) Reset(b bin.Bin) {
	bm.apply(b, false)
}

// apply is the shared descend/unpack/mutate/pack algorithm behind Set
// (fill true) and Reset (fill false).
func (bm *Binmap) apply(b bin.Bin, fill bool) {
	if b.IsNone() {
		return
	}

	for !bm.rootBin.Contains(b) {
		if !bm.extendRoot() {
			return
		}
	}

	targetBitmap := bitmapEmpty
	if fill {
		targetBitmap = bitmapFilled
	}

	trace := make([]uint32, 1, 64)
	trace[0] = rootRef

	curRef := rootRef
	curBin := bm.rootBin
	for curBin != b {
		if b < curBin {
			if !bm.cells[curRef].isLeftRef {
				break
			}
			curRef = bm.cells[curRef].left.ref
			curBin = curBin.Left()
		} else {
			if !bm.cells[curRef].isRightRef {
				break
			}
			curRef = bm.cells[curRef].right.ref
			curBin = curBin.Right()
		}
		trace = append(trace, curRef)
	}

	if curBin == b {
		if bm.cells[curRef].isLeftRef {
			bm.freeCell(bm.cells[curRef].left.ref)
		}
		if bm.cells[curRef].isRightRef {
			bm.freeCell(bm.cells[curRef].right.ref)
		}

		bm.cells[curRef].isLeftRef = false
		bm.cells[curRef].isRightRef = false
		bm.cells[curRef].left.bitmap = targetBitmap
		bm.cells[curRef].right.bitmap = targetBitmap

		bm.packCells(trace)
		return
	}

	binBitmap := bitmapTable[bitmapLayerBits&uint32(b)]

	var current uint32
	if b < curBin {
		current = bm.cells[curRef].left.bitmap
	} else {
		current = bm.cells[curRef].right.bitmap
	}
	if fill {
		if current&binBitmap == binBitmap {
			return
		}
	} else {
		if current&binBitmap == 0 {
			return
		}
	}

	preBin := b.Parent()
	for preBin.LayerBits() <= bitmapLayerBits {
		preBin = preBin.Parent()
	}

	for curBin != preBin {
		if preBin < curBin {
			curRef = bm.unpackLeftHalf(curRef)
			curBin = curBin.Left()
		} else {
			curRef = bm.unpackRightHalf(curRef)
			curBin = curBin.Right()
		}

		if curRef == rootRef {
			bm.packCells(trace)
			return
		}
		trace = append(trace, curRef)
	}

	if b < curBin {
		if fill {
			bm.cells[curRef].left.bitmap |= binBitmap
		} else {
			bm.cells[curRef].left.bitmap &^= binBitmap
		}
	} else {
		if fill {
			bm.cells[curRef].right.bitmap |= binBitmap
		} else {
			bm.cells[curRef].right.bitmap &^= binBitmap
		}
	}

	bm.packCells(trace)
}

// extendRoot grows root_bin to its parent, preserving the current
// tree's content. Returns false if the growth required an allocation
// that failed, in which case root_bin is left unchanged.
func (bm *Binmap) extendRoot() bool {
	root := bm.cells[rootRef]

	if !root.isLeftRef && !root.isRightRef && root.left.bitmap == root.right.bitmap {
		bm.cells[rootRef].right.bitmap = bitmapEmpty
	} else {
		ref := bm.allocCell()
		if ref == rootRef {
			return false
		}

		bm.cells[ref] = root
		bm.cells[rootRef] = cell{
			isLeftRef: true,
			left:      half{ref: ref},
			right:     half{bitmap: bitmapEmpty},
		}
	}

	bm.rootBin = bm.rootBin.Parent()
	return true
}

// FindEmpty returns the leftmost bin whose subtree is uniformly empty
// and maximal under that condition (its parent is not uniformly
// empty). On an entirely empty binmap it returns the leftmost leaf,
// bin 0. Returns bin.None if the binmap is entirely filled and
// root_bin has grown to bin.All.
func (bm *Binmap) FindEmpty() bin.Bin {
	bitmap := bitmapFilled

	curRef := rootRef
	curBin := bm.rootBin

	root := bm.cells[rootRef]
	if !root.isLeftRef && !root.isRightRef && root.left.bitmap == bitmapEmpty && root.right.bitmap == bitmapEmpty {
		return curBin.BaseLeft()
	}

	for {
		if bm.cells[curRef].isLeftRef {
			curRef = bm.cells[curRef].left.ref
			curBin = curBin.Left()
			continue
		}
		if bm.cells[curRef].left.bitmap != bitmapFilled {
			bitmap = bm.cells[curRef].left.bitmap
			curBin = curBin.Left()
			break
		}
		if bm.cells[curRef].isRightRef {
			curRef = bm.cells[curRef].right.ref
			curBin = curBin.Right()
			continue
		}
		bitmap = bm.cells[curRef].right.bitmap
		curBin = curBin.Right()
		break
	}

	if bitmap == bitmapFilled {
		if bm.rootBin.IsAll() {
			return bin.None
		}
		return bm.rootBin.Sibling()
	}
	if bitmap == bitmapEmpty {
		return curBin
	}

	return bin.Bin(uint32(curBin.BaseLeft()) + bitmapToBin(^bitmap))
}
