package detector

// Reference poses in camera coordinates (x right, y down, z toward camera).
// Tests and demos use them as class centres.

func pose(points [NumLandmarks]Point3D) HandLandmarks {
	return HandLandmarks{Points: points, Handedness: "Right", Score: 0.95}
}

// ThumbsUpLandmarks is a right hand with the thumb raised and the other four
// fingers curled into the palm.
func ThumbsUpLandmarks() HandLandmarks {
	return pose([NumLandmarks]Point3D{
		Wrist: {X: 0.5, Y: 0.8},

		ThumbCMC: {X: 0.55, Y: 0.75},
		ThumbMCP: {X: 0.58, Y: 0.65},
		ThumbIP:  {X: 0.58, Y: 0.50},
		ThumbTip: {X: 0.58, Y: 0.35},

		IndexMCP: {X: 0.55, Y: 0.70, Z: -0.02},
		IndexPIP: {X: 0.55, Y: 0.68, Z: -0.05},
		IndexDIP: {X: 0.52, Y: 0.70, Z: -0.04},
		IndexTip: {X: 0.50, Y: 0.72, Z: -0.02},

		MiddleMCP: {X: 0.50, Y: 0.68, Z: -0.02},
		MiddlePIP: {X: 0.50, Y: 0.66, Z: -0.05},
		MiddleDIP: {X: 0.47, Y: 0.68, Z: -0.04},
		MiddleTip: {X: 0.45, Y: 0.70, Z: -0.02},

		RingMCP: {X: 0.45, Y: 0.70, Z: -0.02},
		RingPIP: {X: 0.45, Y: 0.68, Z: -0.05},
		RingDIP: {X: 0.42, Y: 0.70, Z: -0.04},
		RingTip: {X: 0.40, Y: 0.72, Z: -0.02},

		PinkyMCP: {X: 0.40, Y: 0.72, Z: -0.02},
		PinkyPIP: {X: 0.40, Y: 0.70, Z: -0.05},
		PinkyDIP: {X: 0.37, Y: 0.72, Z: -0.04},
		PinkyTip: {X: 0.35, Y: 0.74, Z: -0.02},
	})
}

// OpenPalmLandmarks is a right hand with all five fingers spread.
func OpenPalmLandmarks() HandLandmarks {
	return pose([NumLandmarks]Point3D{
		Wrist: {X: 0.5, Y: 0.8},

		ThumbCMC: {X: 0.55, Y: 0.75, Z: 0.02},
		ThumbMCP: {X: 0.62, Y: 0.70, Z: 0.03},
		ThumbIP:  {X: 0.68, Y: 0.65, Z: 0.03},
		ThumbTip: {X: 0.73, Y: 0.60, Z: 0.03},

		IndexMCP: {X: 0.55, Y: 0.68},
		IndexPIP: {X: 0.57, Y: 0.55},
		IndexDIP: {X: 0.58, Y: 0.45},
		IndexTip: {X: 0.58, Y: 0.35},

		MiddleMCP: {X: 0.50, Y: 0.66},
		MiddlePIP: {X: 0.50, Y: 0.52},
		MiddleDIP: {X: 0.50, Y: 0.40},
		MiddleTip: {X: 0.50, Y: 0.28},

		RingMCP: {X: 0.45, Y: 0.68},
		RingPIP: {X: 0.43, Y: 0.55},
		RingDIP: {X: 0.42, Y: 0.45},
		RingTip: {X: 0.42, Y: 0.35},

		PinkyMCP: {X: 0.40, Y: 0.70},
		PinkyPIP: {X: 0.37, Y: 0.60},
		PinkyDIP: {X: 0.35, Y: 0.50},
		PinkyTip: {X: 0.34, Y: 0.42},
	})
}
