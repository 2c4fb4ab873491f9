package tumor

import "slices"

// point is a grid position as (row, col).
type point struct{ row, col int }

// circumference returns the midpoint-circle rasterisation of a circle,
// without duplicates, in drawing order. A radius of zero yields the center.
func circumference(center point, radius int) []point {
	x, y, err := radius, 0, 0
	var out []point
	seen := make(map[point]bool)
	add := func(p point) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for x >= y {
		add(point{center.row + x, center.col + y})
		add(point{center.row + y, center.col + x})
		add(point{center.row - y, center.col + x})
		add(point{center.row - x, center.col + y})
		add(point{center.row - x, center.col - y})
		add(point{center.row - y, center.col - x})
		add(point{center.row + y, center.col - x})
		add(point{center.row + x, center.col - y})

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
	return out
}

// interior returns the positions strictly inside a closed border: for each
// column holding border points, every row between the outermost border
// rows that is not itself on the border.
func interior(border []point) []point {
	onBorder := make(map[point]bool, len(border))
	lo := make(map[int]int)
	hi := make(map[int]int)
	for _, p := range border {
		onBorder[p] = true
		if v, ok := lo[p.col]; !ok || p.row < v {
			lo[p.col] = p.row
		}
		if v, ok := hi[p.col]; !ok || p.row > v {
			hi[p.col] = p.row
		}
	}

	var out []point
	for col, top := range lo {
		for row := top + 1; row < hi[col]; row++ {
			if p := (point{row, col}); !onBorder[p] {
				out = append(out, p)
			}
		}
	}
	slices.SortFunc(out, func(a, b point) int {
		if a.row != b.row {
			return a.row - b.row
		}
		return a.col - b.col
	})
	return out
}

// structureCenters spaces n structure centers along the middle row.
func structureCenters(gridSize, n int) []point {
	out := make([]point, n)
	for s := range n {
		out[s] = point{row: gridSize / 2, col: (s + 1) * gridSize / (n + 1)}
	}
	return out
}

func inBounds(p point, size int) bool {
	return p.row >= 0 && p.row < size && p.col >= 0 && p.col < size
}

func clip(points []point, size int) []point {
	return slices.DeleteFunc(slices.Clone(points), func(p point) bool { return !inBounds(p, size) })
}
