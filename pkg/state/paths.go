package state

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// Layout versions of the batch directories. Bumping one orphans files
// written by an older format.
const (
	liveDirName        = "v1"
	provisionalDirName = "intermediate-v1"
)

type Paths struct {
	Root     string
	Features string
	State    string
	Ledger   string // upload attempt ledger
	Logs     string
}

func PathsFor(root string) Paths {
	statePath := filepath.Join(root, "state")
	return Paths{
		Root:     root,
		Features: filepath.Join(root, "features"),
		State:    statePath,
		Ledger:   filepath.Join(statePath, "ledger"),
		Logs:     filepath.Join(statePath, "logs"),
	}
}

// FeaturePaths are the two consent areas of one feature.
type FeaturePaths struct {
	Dir         string
	Live        string
	Provisional string
}

var featureName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidateFeatureName rejects names that are unsafe as a directory name.
func ValidateFeatureName(name string) error {
	if !featureName.MatchString(name) {
		return fmt.Errorf("invalid feature name %q", name)
	}
	return nil
}

func FeaturePathsFor(root, feature string) FeaturePaths {
	dir := filepath.Join(PathsFor(root).Features, feature)
	return FeaturePaths{
		Dir:         dir,
		Live:        filepath.Join(dir, liveDirName),
		Provisional: filepath.Join(dir, provisionalDirName),
	}
}
