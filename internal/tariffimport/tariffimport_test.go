package tariffimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mogwaid/mogwaid/internal/period"
	"github.com/mogwaid/mogwaid/internal/tariffcodec"
)

const sampleYAML = `
name: home-adsl
periods:
  - start: 2018-01-22T00:00:00Z
    end: 2018-02-22T00:00:00Z
    repeat: month
    repeat_period: 1
    capacity: "21474836480"
  - start: 2018-06-01T00:00:00Z
    end: 2018-09-01T00:00:00Z
    repeat: none
    repeat_period: 0
    capacity: unlimited
  - start: 2018-12-24T00:00:00Z
    end: 2018-12-27T00:00:00Z
    repeat: year
    repeat_period: 1
    capacity: forbidden
`

func TestParse_BuildsTariff(t *testing.T) {
	tf, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tf.Name() != "home-adsl" {
		t.Errorf("name = %q, want home-adsl", tf.Name())
	}
	periods := tf.Periods()
	if len(periods) != 3 {
		t.Fatalf("len(periods) = %d, want 3", len(periods))
	}
	if periods[0].CapacityLimit() != 21474836480 {
		t.Errorf("periods[0].CapacityLimit() = %d, want 21474836480", periods[0].CapacityLimit())
	}
	if periods[1].CapacityLimit() != period.CapacityUnlimited {
		t.Errorf("periods[1].CapacityLimit() = %d, want unlimited", periods[1].CapacityLimit())
	}
	if periods[2].CapacityLimit() != period.CapacityForbidden {
		t.Errorf("periods[2].CapacityLimit() = %d, want forbidden", periods[2].CapacityLimit())
	}
	if periods[2].RepeatType() != period.RepeatYear {
		t.Errorf("periods[2].RepeatType() = %v, want RepeatYear", periods[2].RepeatType())
	}
}

func TestParse_UnknownRepeatKindRejected(t *testing.T) {
	const bad = `
name: x
periods:
  - start: 2018-01-01T00:00:00Z
    end: 2018-01-02T00:00:00Z
    repeat: fortnight
    repeat_period: 1
    capacity: unlimited
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for unknown repeat kind")
	}
}

func TestParse_InvalidCapacityRejected(t *testing.T) {
	const bad = `
name: x
periods:
  - start: 2018-01-01T00:00:00Z
    end: 2018-01-02T00:00:00Z
    repeat: none
    repeat_period: 0
    capacity: lots
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for unparseable capacity")
	}
}

func TestParse_EmptyNameRejected(t *testing.T) {
	const bad = `
name: ""
periods:
  - start: 2018-01-01T00:00:00Z
    end: 2018-01-02T00:00:00Z
    repeat: none
    repeat_period: 0
    capacity: unlimited
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestCompileFile_RoundTripsThroughCodec(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "home-adsl.yaml")
	dst := filepath.Join(dir, "home-adsl.tariff")

	if err := os.WriteFile(src, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := CompileFile(src, dst); err != nil {
		t.Fatalf("CompileFile: %v", err)
	}

	encoded, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	decoded, err := tariffcodec.Decode(encoded)
	if err != nil {
		t.Fatalf("tariffcodec.Decode: %v", err)
	}
	if decoded.Name() != "home-adsl" {
		t.Errorf("decoded name = %q, want home-adsl", decoded.Name())
	}
	if len(decoded.Periods()) != 3 {
		t.Errorf("decoded period count = %d, want 3", len(decoded.Periods()))
	}
}
