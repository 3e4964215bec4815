package geometry_test

import (
	"math"
	"testing"
)

//gate:item.field geometry::Point::x
//gate:item.field geometry::Point::y
type point struct {
	x, y float64
}

//gate:func.method geometry::Point::norm
func TestNorm(t *testing.T) {
	p := point{x: 3, y: 4}
	if got := math.Hypot(p.x, p.y); got != 5 {
		t.Fatalf("norm = %v, want 5", got)
	}
}

//gate:func.impl sorting::bubble_sort::Sorter for Quick
func TestQuickSort(t *testing.T) {
	items := []int{3, 1, 2}
	if math.IsNaN(float64(items[0])) {
		t.Fatal("unreachable")
	}
}

//gate:item.decl geometry::Circle
func circleArea(r float64) float64 {
	return math.Pi * r * r
}
