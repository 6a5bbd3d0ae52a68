package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// ReadFile loads every record from a JSON-lines metrics file. Lines that
// fail to decode are skipped and counted.
func ReadFile(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open metrics file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads JSON-lines records from r.
func Decode(r io.Reader) ([]Record, int, error) {
	var (
		recs    []Record
		skipped int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return recs, skipped, fmt.Errorf("read metrics: %w", err)
	}
	return recs, skipped, nil
}

// Latency summarizes a duration series in milliseconds.
type Latency struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
	Max  float64 `json:"max"`
}

// Summary aggregates a set of records.
type Summary struct {
	Count     int         `json:"count"`
	Errors    int         `json:"errors"`
	ErrorRate float64     `json:"errorRate"`
	ByStatus  map[int]int `json:"byStatus"`
	Upstream  Latency     `json:"upstreamMs"`
	Total     Latency     `json:"totalMs"`
	From      int64       `json:"from,omitempty"`
	To        int64       `json:"to,omitempty"`
}

// Summarize computes counts, error rate and latency percentiles.
func Summarize(recs []Record) Summary {
	s := Summary{Count: len(recs), ByStatus: make(map[int]int)}
	if len(recs) == 0 {
		return s
	}

	upstream := make([]float64, 0, len(recs))
	total := make([]float64, 0, len(recs))
	s.From, s.To = recs[0].Timestamp, recs[0].Timestamp
	for _, r := range recs {
		s.ByStatus[r.UpstreamStatus]++
		if r.Failed() {
			s.Errors++
		}
		upstream = append(upstream, r.UpstreamDurationMs)
		total = append(total, r.TotalDurationMs)
		s.From = min(s.From, r.Timestamp)
		s.To = max(s.To, r.Timestamp)
	}

	s.ErrorRate = round2(float64(s.Errors) / float64(s.Count))
	s.Upstream = latency(upstream)
	s.Total = latency(total)
	return s
}

func latency(samples []float64) Latency {
	sort.Float64s(samples)
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return Latency{
		Mean: round2(sum / float64(len(samples))),
		P50:  percentile(samples, 0.50),
		P95:  percentile(samples, 0.95),
		Max:  samples[len(samples)-1],
	}
}

// percentile uses nearest-rank on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
