// Package tariffimport compiles human-authored YAML tariff definitions
// into the binary format internal/tariffcodec persists. The daemon itself
// only ever loads the binary form; this package is tooling for producing
// it.
package tariffimport

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mogwaid/mogwaid/internal/period"
	"github.com/mogwaid/mogwaid/internal/tariff"
	"github.com/mogwaid/mogwaid/internal/tariffcodec"
)

// document mirrors the on-disk YAML shape:
//
//	name: home-adsl
//	periods:
//	  - start: 2018-01-22T00:00:00Z
//	    end: 2018-02-22T00:00:00Z
//	    repeat: none
//	    repeat_period: 0
//	    capacity: unlimited
type document struct {
	Name    string         `yaml:"name"`
	Periods []periodRecord `yaml:"periods"`
}

type periodRecord struct {
	Start        time.Time `yaml:"start"`
	End          time.Time `yaml:"end"`
	Repeat       string    `yaml:"repeat"`
	RepeatPeriod uint32    `yaml:"repeat_period"`
	// Capacity is either "unlimited", "forbidden", or a byte count.
	Capacity string `yaml:"capacity"`
}

var repeatTypeByName = map[string]period.RepeatType{
	"none":  period.RepeatNone,
	"hour":  period.RepeatHour,
	"day":   period.RepeatDay,
	"week":  period.RepeatWeek,
	"month": period.RepeatMonth,
	"year":  period.RepeatYear,
}

// Parse reads a YAML tariff definition and builds the corresponding
// Tariff, applying the same validation period.New/tariff.New enforce.
func Parse(data []byte) (*tariff.Tariff, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tariffimport: parse yaml: %w", err)
	}

	periods := make([]*period.Period, 0, len(doc.Periods))
	for i, rec := range doc.Periods {
		rt, ok := repeatTypeByName[rec.Repeat]
		if !ok {
			return nil, fmt.Errorf("tariffimport: period %d: unknown repeat kind %q", i, rec.Repeat)
		}
		capacity, err := parseCapacity(rec.Capacity)
		if err != nil {
			return nil, fmt.Errorf("tariffimport: period %d: %w", i, err)
		}
		p, err := period.New(rec.Start, rec.End, rt, rec.RepeatPeriod, capacity)
		if err != nil {
			return nil, fmt.Errorf("tariffimport: period %d: %w", i, err)
		}
		periods = append(periods, p)
	}

	t, err := tariff.New(doc.Name, periods)
	if err != nil {
		return nil, fmt.Errorf("tariffimport: %w", err)
	}
	return t, nil
}

func parseCapacity(s string) (uint64, error) {
	switch s {
	case "unlimited", "":
		return period.CapacityUnlimited, nil
	case "forbidden":
		return period.CapacityForbidden, nil
	default:
		var n uint64
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return 0, fmt.Errorf("invalid capacity %q: must be \"unlimited\", \"forbidden\", or a byte count", s)
		}
		return n, nil
	}
}

// CompileFile reads a YAML tariff definition from srcPath and writes its
// binary-encoded form to dstPath.
func CompileFile(srcPath, dstPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("tariffimport: read %s: %w", srcPath, err)
	}
	t, err := Parse(data)
	if err != nil {
		return err
	}
	encoded, err := tariffcodec.Encode(t)
	if err != nil {
		return fmt.Errorf("tariffimport: encode %s: %w", srcPath, err)
	}
	if err := os.WriteFile(dstPath, encoded, 0o644); err != nil {
		return fmt.Errorf("tariffimport: write %s: %w", dstPath, err)
	}
	return nil
}
