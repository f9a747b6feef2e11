package performance

import (
	"testing"
	"time"
)

func TestNewKeepsReadAfterWrite(t *testing.T) {
	for _, b := range []BatchSize{BatchSmall, BatchMedium, BatchLarge} {
		for _, f := range []UploadFrequency{UploadFrequent, UploadAverage, UploadRare} {
			p, err := New(b, f)
			if err != nil {
				t.Fatalf("New(%s,%s): %v", b, f, err)
			}
			if p.MinFileAgeForRead <= p.MaxFileAgeForWrite {
				t.Fatalf("%s/%s: read grace %v must exceed write age %v", b, f, p.MinFileAgeForRead, p.MaxFileAgeForWrite)
			}
			if err := p.Validate(); err != nil {
				t.Fatalf("%s/%s: %v", b, f, err)
			}
		}
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, err := New("huge", UploadAverage); err == nil {
		t.Fatalf("expected error for unknown batch size")
	}
	if _, err := New(BatchSmall, "sometimes"); err == nil {
		t.Fatalf("expected error for unknown frequency")
	}
}

func TestCombine(t *testing.T) {
	s, _ := New(BatchLarge, UploadRare)
	u, _ := New(BatchSmall, UploadFrequent)
	c := Combine(s, u)
	if c.MaxFileAgeForWrite != s.MaxFileAgeForWrite {
		t.Fatalf("storage thresholds must come from storage preset")
	}
	if c.MinUploadDelay != 500*time.Millisecond {
		t.Fatalf("upload thresholds must come from upload preset, got %v", c.MinUploadDelay)
	}
}

func TestEachEventNewFile(t *testing.T) {
	p := EachEventNewFile()
	if p.MaxEventsPerFile != 1 || p.MinFileAgeForRead != 0 {
		t.Fatalf("unexpected preset %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
