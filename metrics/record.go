package metrics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

type CalibrationInfo struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
	N         int     `json:"n"`
	Dropped   int     `json:"dropped"`
}

type ResolverInfo struct {
	Asset        string `json:"asset"`
	InitialState string `json:"initial_state"`
	Recomputed   []int  `json:"recomputed,omitempty"`
}

// RunRecord is the JSON line emitted for every job run.
type RunRecord struct {
	RunID       string           `json:"run_id"`
	Job         string           `json:"job"`
	NameSpace   string           `json:"namespace,omitempty"`
	TargetDate  string           `json:"target_date"`
	StartTime   string           `json:"start_time"`
	Duration    time.Duration    `json:"duration"`
	Outcome     string           `json:"outcome"`
	Error       string           `json:"error,omitempty"`
	Attempts    int              `json:"attempts"`
	Output      string           `json:"output,omitempty"`
	Resolver    *ResolverInfo    `json:"resolver,omitempty"`
	Calibration *CalibrationInfo `json:"calibration,omitempty"`
}

func NewRunRecord(job, namespace string, target, start time.Time) *RunRecord {
	return &RunRecord{
		RunID:      uuid.NewString(),
		Job:        job,
		NameSpace:  namespace,
		TargetDate: target.Format(ISOFormat),
		StartTime:  start.UTC().Format(ISOFormat),
	}
}

// ToJSON renders the record as a single newline terminated line.
func (r *RunRecord) ToJSON() (string, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}
