package scoring

// positionPoints awards championship-style points by finishing position.
// Top ten get a steep curve, then flat bands down to position 30.
var positionPoints = []int{30, 25, 20, 18, 16, 14, 12, 10, 8, 6}

// PointsForPosition returns the points for a 1-based finishing position.
// Positions past 30 score zero.
func PointsForPosition(pos int) int {
	switch {
	case pos < 1:
		return 0
	case pos <= len(positionPoints):
		return positionPoints[pos-1]
	case pos <= 15:
		return 4
	case pos <= 20:
		return 3
	case pos <= 25:
		return 2
	case pos <= 30:
		return 1
	default:
		return 0
	}
}
