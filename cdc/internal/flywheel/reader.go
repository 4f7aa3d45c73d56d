package flywheel

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Reader reads workload logs from a directory.
type Reader struct {
	dir string
}

// NewReader returns a Reader over dir.
func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// Stats summarizes one workload log.
type Stats struct {
	WorkloadID     string         `json:"workload_id"`
	Total          int            `json:"total_records"`
	Outcomes       map[string]int `json:"outcomes,omitempty"`
	FirstTimestamp int64          `json:"first_timestamp,omitempty"`
	LastTimestamp  int64          `json:"last_timestamp,omitempty"`
}

// Read returns the last limit records of workload, or all when limit <= 0.
// A missing log reads as empty.
func (r *Reader) Read(workload string, limit int) ([]Record, error) {
	var out []Record
	err := r.each(workload, func(rec Record) {
		out = append(out, rec)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	})
	return out, err
}

// Stats counts records per outcome.
func (r *Reader) Stats(workload string) (Stats, error) {
	st := Stats{WorkloadID: workload}
	err := r.each(workload, func(rec Record) {
		if st.Total == 0 {
			st.Outcomes = make(map[string]int)
			st.FirstTimestamp = rec.Timestamp
		}
		st.Total++
		outcome := rec.Outcome
		if outcome == "" {
			outcome = "unknown"
		}
		st.Outcomes[outcome]++
		st.LastTimestamp = rec.Timestamp
	})
	return st, err
}

// Workloads lists workloads with a log in the directory.
func (r *Reader) Workloads() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		out = append(out, base[:len(base)-len(".jsonl")])
	}
	return out, nil
}

func (r *Reader) each(workload string, fn func(Record)) error {
	f, err := os.Open(filepath.Join(r.dir, FileName(workload)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open flywheel log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s line %d: %w", FileName(workload), line, err)
		}
		fn(rec)
	}
	return sc.Err()
}
