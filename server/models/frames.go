package models

// Body point ids produced by the pose collaborator. Names follow the
// MediaPipe pose topology.
const (
	Nose          = "nose"
	LeftEye       = "left_eye"
	RightEye      = "right_eye"
	LeftEar       = "left_ear"
	RightEar      = "right_ear"
	MouthLeft     = "mouth_left"
	MouthRight    = "mouth_right"
	LeftShoulder  = "left_shoulder"
	RightShoulder = "right_shoulder"
	LeftElbow     = "left_elbow"
	RightElbow    = "right_elbow"
	LeftWrist     = "left_wrist"
	RightWrist    = "right_wrist"
	LeftHip       = "left_hip"
	RightHip      = "right_hip"
	LeftKnee      = "left_knee"
	RightKnee     = "right_knee"
	LeftAnkle     = "left_ankle"
	RightAnkle    = "right_ankle"
)

// FaceLandmarks are the points whose centroid tracks head position.
var FaceLandmarks = []string{Nose, LeftEye, RightEye, LeftEar, RightEar, MouthLeft, MouthRight}

// Landmark is a single keypoint in frame-normalised coordinates.
type Landmark struct {
	X          float64 `json:"x" yaml:"x"`
	Y          float64 `json:"y" yaml:"y"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// LandmarkFrame is the pose observation for one sampled frame. Present is
// false when the pose collaborator detected nobody in the frame.
type LandmarkFrame struct {
	FrameIndex int                 `json:"frame_index"`
	Timestamp  float64             `json:"timestamp"`
	Present    bool                `json:"present"`
	Landmarks  map[string]Landmark `json:"landmarks,omitempty"`
}

// RawFrame is a downsized pixel buffer paired with the landmark frame of the
// same FrameIndex. Pixels are row-major, Channels bytes per pixel.
//
// Pixels MUST NOT be modified once the frame is handed to a store.
type RawFrame struct {
	FrameIndex int    `json:"frame_index"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	Pixels     []byte `json:"pixels"`
}

// Sampling records how the decoder reduced the source video before the
// engine saw it.
type Sampling struct {
	Stride    int     `json:"stride"`
	Downscale float64 `json:"downscale"`
}

// Capture is the bundle handed to the engine: landmark stream, raw frames
// and optional per-run configuration overrides.
type Capture struct {
	Exercise  string          `json:"exercise,omitempty"`
	Sampling  Sampling        `json:"sampling"`
	Frames    []LandmarkFrame `json:"frames"`
	RawFrames []RawFrame      `json:"raw_frames"`
	Overrides *RunOverrides   `json:"overrides,omitempty"`
}

// RunOverrides replaces individual engine defaults for a single run. Nil
// fields keep the configured value.
type RunOverrides struct {
	VisibilityFloor       *float64                 `json:"visibility_floor,omitempty"`
	FormPassThreshold     *float64                 `json:"form_pass_threshold,omitempty"`
	DownThreshold         *float64                 `json:"down_threshold,omitempty"`
	UpThreshold           *float64                 `json:"up_threshold,omitempty"`
	DuplicationThreshold  *float64                 `json:"duplication_threshold,omitempty"`
	FaceVarianceThreshold *float64                 `json:"face_variance_threshold,omitempty"`
	RateCeiling           *float64                 `json:"rate_ceiling,omitempty"`
	CheatPolicy           *CheatPolicy             `json:"cheat_policy,omitempty"`
	CheatPassThreshold    *float64                 `json:"cheat_pass_threshold,omitempty"`
	Penalties             map[EvidenceKind]float64 `json:"penalties,omitempty"`
}
