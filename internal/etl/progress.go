package etl

import "fmt"

// Progress is one user-visible pipeline update. Percent is monotonic
// within a run and reaches 100 only when the run finishes.
type Progress struct {
	Text    string `json:"text"`
	Percent int    `json:"percent"`
}

// ProgressFunc receives pipeline updates. A nil ProgressFunc is valid and
// discards everything.
type ProgressFunc func(Progress)

func (f ProgressFunc) emit(percent int, format string, args ...interface{}) {
	if f == nil {
		return
	}
	f(Progress{Text: fmt.Sprintf(format, args...), Percent: percent})
}
