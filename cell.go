package binmap

import "math"

// rootRef is the permanent cell index of the root. It is never freed,
// which lets alloc_cell reuse it as the "free list is empty" sentinel
// once the very first allocation has consumed it.
const rootRef uint32 = 0

// half is one side of a cell: either a 32-bit membership bitmap or a
// reference to a child cell, tagged by the owning cell's isLeftRef /
// isRightRef flag.
type half struct {
	bitmap uint32
	ref    uint32
}

// cell is a node of the expanded portion of the tree. A freshly
// allocated cell represents two identical EMPTY halves. When free, a
// cell's only live field is freeNext, chaining it into the free list.
type cell struct {
	left, right          half
	isLeftRef, isRightRef bool
	free                  bool
	freeNext              uint32
}

// allocCell pops the head of the free list, growing the backing array
// (doubling, starting at 16 cells) if the list is empty. It returns
// rootRef on allocation failure -- out of reference space, since refs
// are 32-bit indices -- which callers treat as "operation aborted".
func (bm *Binmap) allocCell() uint32 {
	if bm.freeTop == rootRef {
		oldSize := bm.blocksNumber
		newSize := oldSize * 2
		if newSize == 0 {
			newSize = 1
		}

		newCellCount := 16 * newSize
		if newCellCount > math.MaxUint32 {
			return rootRef
		}

		grown := make([]cell, newCellCount)
		copy(grown, bm.cells)
		bm.cells = grown

		newBase := 16 * oldSize
		top := newCellCount - 1
		bm.cells[top] = cell{free: true, freeNext: bm.freeTop}
		for i := newBase; i < top; i++ {
			bm.cells[i] = cell{free: true, freeNext: uint32(i + 1)}
		}

		bm.blocksNumber = newSize
		bm.freeTop = uint32(newBase)
	}

	ref := bm.freeTop
	bm.freeTop = bm.cells[ref].freeNext
	bm.cells[ref] = cell{}
	bm.cellsNumber++

	return ref
}

// freeCell releases ref and, recursively and depth-first, any cells it
// references. ref must not be rootRef.
func (bm *Binmap) freeCell(ref uint32) {
	c := bm.cells[ref]
	if c.isLeftRef {
		bm.freeCell(c.left.ref)
	}
	if c.isRightRef {
		bm.freeCell(c.right.ref)
	}

	bm.cells[ref] = cell{free: true, freeNext: bm.freeTop}
	bm.freeTop = ref
	bm.cellsNumber--
}

// unpackLeftHalf materializes ref's left bitmap half into a fresh
// cell whose two halves both carry the former bitmap value, and
// retags the half as a reference to it. Returns rootRef on allocation
// failure.
func (bm *Binmap) unpackLeftHalf(ref uint32) uint32 {
	bitmap := bm.cells[ref].left.bitmap

	leftRef := bm.allocCell()
	if leftRef == rootRef {
		return rootRef
	}

	bm.cells[leftRef].left.bitmap = bitmap
	bm.cells[leftRef].right.bitmap = bitmap

	bm.cells[ref].isLeftRef = true
	bm.cells[ref].left.ref = leftRef

	return leftRef
}

// unpackRightHalf is the mirror of unpackLeftHalf for the right half.
func (bm *Binmap) unpackRightHalf(ref uint32) uint32 {
	bitmap := bm.cells[ref].right.bitmap

	rightRef := bm.allocCell()
	if rightRef == rootRef {
		return rootRef
	}

	bm.cells[rightRef].left.bitmap = bitmap
	bm.cells[rightRef].right.bitmap = bitmap

	bm.cells[ref].isRightRef = true
	bm.cells[ref].right.ref = rightRef

	return rightRef
}

// packCells collapses uniform siblings upward along trace, a stack of
// cell indices recorded root-first during a descent (trace[0] is
// always rootRef, trace[len-1] is the deepest cell visited). It stops
// at the first ancestor whose other half isn't the same uniform
// bitmap, or at the root.
func (bm *Binmap) packCells(trace []uint32) {
	idx := len(trace) - 1
	ref := trace[idx]
	if ref == rootRef {
		return
	}

	c := bm.cells[ref]
	if c.left.bitmap != c.right.bitmap {
		return
	}
	bitmap := c.left.bitmap

	for {
		idx--
		ref = trace[idx]
		c = bm.cells[ref]

		if !c.isLeftRef {
			if c.left.bitmap != bitmap {
				break
			}
		} else if !c.isRightRef {
			if c.right.bitmap != bitmap {
				break
			}
		} else {
			break
		}

		if ref == rootRef {
			break
		}
	}

	childRef := trace[idx+1]
	if bm.cells[ref].isLeftRef && bm.cells[ref].left.ref == childRef {
		bm.cells[ref].isLeftRef = false
		bm.cells[ref].left.bitmap = bitmap
	} else {
		bm.cells[ref].isRightRef = false
		bm.cells[ref].right.bitmap = bitmap
	}

	bm.freeCell(childRef)
}
