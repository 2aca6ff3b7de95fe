package domain

// CallStatus is what a peer reports about its own call participation.
// It is taken at face value: a peer may carry a live video track and still
// report CameraOn=false.
type CallStatus struct {
	Muted    bool `json:"muted"`
	CameraOn bool `json:"cameraOn"`
}
