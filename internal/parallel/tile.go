// Package parallel splits frames into screen tiles and executes them on a
// work-stealing worker pool.
package parallel

import (
	"errors"
	"image"
)

// ErrPoolClosed is returned by Run after Close.
var ErrPoolClosed = errors.New("parallel: pool closed")

// TileSize is the default tile edge in pixels. 64x64 tiles keep a tile's
// color and depth attachments within L1/L2 while giving enough tiles per
// frame to balance across cores.
const TileSize = 64

// Tile is a rectangular region of the frame rendered as one job.
type Tile struct {
	// X, Y are the tile column and row.
	X, Y int
	// Bounds is the pixel rectangle. Edge tiles may be smaller than the
	// tile size.
	Bounds image.Rectangle
}

// Tiles splits a width x height frame into tiles of size x size pixels in
// row-major order. A size <= 0 selects TileSize.
func Tiles(width, height, size int) []Tile {
	if width <= 0 || height <= 0 {
		return nil
	}
	if size <= 0 {
		size = TileSize
	}
	cols := (width + size - 1) / size
	rows := (height + size - 1) / size
	tiles := make([]Tile, 0, cols*rows)
	for ty := 0; ty < rows; ty++ {
		for tx := 0; tx < cols; tx++ {
			tiles = append(tiles, Tile{
				X: tx,
				Y: ty,
				Bounds: image.Rect(tx*size, ty*size,
					min((tx+1)*size, width), min((ty+1)*size, height)),
			})
		}
	}
	return tiles
}
