// Package performance bundles the storage and upload thresholds that must
// stay consistent with each other: smaller files mean more frequent uploads.
package performance

import (
	"fmt"
	"strings"
	"time"
)

// Preset is the full set of batching and upload thresholds for a feature.
type Preset struct {
	// Storage
	MaxFileSize        int64
	MaxDirectorySize   int64
	MaxFileAgeForWrite time.Duration
	MinFileAgeForRead  time.Duration
	MaxFileAgeForRead  time.Duration
	MaxEventsPerFile   int
	MaxEventSize       int64

	// Upload
	InitialUploadDelay    time.Duration
	MinUploadDelay        time.Duration
	MaxUploadDelay        time.Duration
	UploadDelayChangeRate float64
}

// BatchSize controls how long files stay writable.
type BatchSize string

const (
	BatchSmall  BatchSize = "small"
	BatchMedium BatchSize = "medium"
	BatchLarge  BatchSize = "large"
)

// UploadFrequency controls the upload delay range.
type UploadFrequency string

const (
	UploadFrequent UploadFrequency = "frequent"
	UploadAverage  UploadFrequency = "average"
	UploadRare     UploadFrequency = "rare"
)

const (
	defaultMaxFileSize       = 4 * 1024 * 1024
	defaultMaxDirectorySize  = 512 * 1024 * 1024
	defaultMaxFileAgeForRead = 18 * time.Hour
	defaultMaxEventsPerFile  = 500
	defaultMaxEventSize      = 512 * 1024
	defaultDelayChangeRate   = 0.1
)

func meanFileAge(b BatchSize) (time.Duration, error) {
	switch b {
	case BatchSmall:
		return 3 * time.Second, nil
	case BatchMedium, "":
		return 10 * time.Second, nil
	case BatchLarge:
		return 35 * time.Second, nil
	}
	return 0, fmt.Errorf("unknown batch size %q", b)
}

func minUploadDelay(f UploadFrequency) (time.Duration, error) {
	switch f {
	case UploadFrequent:
		return 500 * time.Millisecond, nil
	case UploadAverage, "":
		return 2 * time.Second, nil
	case UploadRare:
		return 5 * time.Second, nil
	}
	return 0, fmt.Errorf("unknown upload frequency %q", f)
}

// New derives a preset from the two user-facing knobs. Files stop being
// writable slightly before the mean age and become readable slightly after
// it, so a reader never picks a file a writer may still append to.
func New(batch BatchSize, freq UploadFrequency) (Preset, error) {
	mean, err := meanFileAge(BatchSize(strings.ToLower(string(batch))))
	if err != nil {
		return Preset{}, err
	}
	minDelay, err := minUploadDelay(UploadFrequency(strings.ToLower(string(freq))))
	if err != nil {
		return Preset{}, err
	}
	return Preset{
		MaxFileSize:           defaultMaxFileSize,
		MaxDirectorySize:      defaultMaxDirectorySize,
		MaxFileAgeForWrite:    mean * 95 / 100,
		MinFileAgeForRead:     mean * 105 / 100,
		MaxFileAgeForRead:     defaultMaxFileAgeForRead,
		MaxEventsPerFile:      defaultMaxEventsPerFile,
		MaxEventSize:          defaultMaxEventSize,
		InitialUploadDelay:    minDelay * 5,
		MinUploadDelay:        minDelay,
		MaxUploadDelay:        minDelay * 10,
		UploadDelayChangeRate: defaultDelayChangeRate,
	}, nil
}

// Default is New(BatchMedium, UploadAverage).
func Default() Preset {
	p, _ := New(BatchMedium, UploadAverage)
	return p
}

// Combine takes storage thresholds from storage and upload thresholds from
// upload.
func Combine(storage, upload Preset) Preset {
	out := storage
	out.InitialUploadDelay = upload.InitialUploadDelay
	out.MinUploadDelay = upload.MinUploadDelay
	out.MaxUploadDelay = upload.MaxUploadDelay
	out.UploadDelayChangeRate = upload.UploadDelayChangeRate
	return out
}

// EachEventNewFile writes every event to its own file and makes every file
// readable immediately. Meant for tests.
func EachEventNewFile() Preset {
	p := Default()
	p.MaxEventsPerFile = 1
	p.MaxFileAgeForWrite = 0
	p.MinFileAgeForRead = 0
	return p
}

// Validate rejects presets that would let readers and writers race or
// that cannot hold a single event.
func (p Preset) Validate() error {
	switch {
	case p.MaxFileSize <= 0:
		return fmt.Errorf("max file size must be positive")
	case p.MaxDirectorySize < p.MaxFileSize:
		return fmt.Errorf("max directory size %d below max file size %d", p.MaxDirectorySize, p.MaxFileSize)
	case p.MaxEventsPerFile <= 0:
		return fmt.Errorf("max events per file must be positive")
	case p.MaxEventSize <= 0 || p.MaxEventSize > p.MaxFileSize:
		return fmt.Errorf("max event size must be in (0, max file size]")
	case p.MaxFileAgeForRead <= p.MinFileAgeForRead:
		return fmt.Errorf("max file age for read must exceed min file age for read")
	case p.MinUploadDelay <= 0 || p.MaxUploadDelay < p.MinUploadDelay:
		return fmt.Errorf("upload delay range invalid")
	case p.UploadDelayChangeRate < 0 || p.UploadDelayChangeRate >= 1:
		return fmt.Errorf("upload delay change rate must be in [0, 1)")
	}
	return nil
}
