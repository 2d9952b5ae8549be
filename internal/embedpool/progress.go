package embedpool

// Progress is reported after each batch completes while embedding a call's
// full chunk set.
type Progress struct {
	Stage          string
	FilesCompleted int
	TotalFiles     int
	Rate           float64 // files per second, since the call began
}

// ProgressReporter receives Progress updates; nil is a valid no-op.
type ProgressReporter func(Progress)
