package ao

// Spatial offsets advance every 6 frames and rotations every frame, giving
// a 24 frame cycle.
var (
	offsets   = [4]float32{0, 0.5, 0.25, 0.75}
	rotations = [6]float32{60, 300, 180, 240, 120, 0}
)

const DitherPeriod = len(offsets) * len(rotations)

// OffsetFor is the sample step offset for a frame.
func OffsetFor(frame uint64) float32 {
	return offsets[(frame/uint64(len(rotations)))%uint64(len(offsets))]
}

// RotationFor is the slice rotation for a frame, in turns.
func RotationFor(frame uint64) float32 {
	return rotations[frame%uint64(len(rotations))] / 360
}
