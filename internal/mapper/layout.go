package mapper

// LayoutParams describes the viewport a layout is computed for.
type LayoutParams struct {
	// CenterX, CenterY is where the start room is drawn.
	CenterX, CenterY float64
	// RoomSize is the unscaled width of a drawn room.
	RoomSize float64
	// RoomSpacing is the unscaled distance between neighbouring grid cells.
	RoomSpacing float64
	// Scale multiplies RoomSize and RoomSpacing. Values <= 0 are treated as 1.
	Scale float64
	// CanvasWidth, CanvasHeight bound the drawable area.
	CanvasWidth, CanvasHeight float64
}

// ScreenInfo is the placement of one room in a layout.
type ScreenInfo struct {
	GridX, GridY int
	X, Y         float64
}

type gridCell struct {
	x, y int
}

type layoutItem struct {
	id   string
	cell gridCell
}

// ComputeLayout lays out the rooms reachable from startID on a 2-D grid
// using a strict FIFO breadth-first traversal. The start room sits at grid
// (0,0) on the canvas centre; a neighbour reached through direction d from
// cell (gx,gy) gets cell (gx+dx, gy+dy). Exits are followed in Directions
// order and only on the horizontal plane.
//
// A dequeued room is rejected, and not expanded, when its cell is already
// taken (first writer wins) or its screen point falls outside the canvas
// shrunk by half a scaled room on every side. Room ids are marked seen when
// enqueued, so a rejected room is never retried through another path. Exits
// with an empty target or a target missing from rooms are not followed.
//
// The collision rule projects non-planar worlds onto the plane and can give
// surprising, but always identical, layouts for loops.
//
// Postcondition: Returns an empty map if startID is not in rooms; otherwise
// the result always contains startID at (CenterX, CenterY).
func ComputeLayout(rooms map[string]Room, startID string, p LayoutParams) map[string]ScreenInfo {
	out := make(map[string]ScreenInfo)
	if startID == "" {
		return out
	}
	if _, ok := rooms[startID]; !ok {
		return out
	}

	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	step := p.RoomSpacing * scale
	margin := p.RoomSize * scale / 2
	minX, maxX := margin, p.CanvasWidth-margin
	minY, maxY := margin, p.CanvasHeight-margin

	occupied := make(map[gridCell]bool)
	seen := map[string]bool{startID: true}
	queue := []layoutItem{{id: startID}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		x := p.CenterX + float64(item.cell.x)*step
		y := p.CenterY + float64(item.cell.y)*step

		if item.id != startID {
			if occupied[item.cell] {
				continue
			}
			if x < minX || x > maxX || y < minY || y > maxY {
				continue
			}
		}

		occupied[item.cell] = true
		out[item.id] = ScreenInfo{GridX: item.cell.x, GridY: item.cell.y, X: x, Y: y}

		room := rooms[item.id]
		for _, d := range Directions {
			if !d.Horizontal() {
				continue
			}
			e, ok := room.Exits[d]
			if !ok || !e.Explored() || seen[e.TargetRoomID] {
				continue
			}
			if _, known := rooms[e.TargetRoomID]; !known {
				continue
			}
			seen[e.TargetRoomID] = true
			delta := d.Delta()
			queue = append(queue, layoutItem{
				id:   e.TargetRoomID,
				cell: gridCell{x: item.cell.x + delta.DX, y: item.cell.y + delta.DY},
			})
		}
	}

	return out
}
