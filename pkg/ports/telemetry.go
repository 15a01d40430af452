package ports

// TelemetryReport carries the scalar outcome of one frame.
type TelemetryReport struct {
	SessionID    string
	FrameIndex   int
	Type         PictureType
	QP           int
	Passes       int
	Panic        bool
	SceneChange  bool
	Converged    bool
	Dropped      bool
	TargetBits   int64
	ConsumedBits int64
	Fullness     int64
}

// TelemetrySink receives diagnostics reports. It never influences scheduling.
type TelemetrySink interface {
	Report(r TelemetryReport)
}
