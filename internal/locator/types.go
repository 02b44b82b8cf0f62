package locator

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/fsutil"
)

// ErrNotFound is returned when every tier has been tried without
// producing a trusted artifact.
var ErrNotFound = errors.New("artifact not found")

// Origin says where an artifact came from.
type Origin int

const (
	OriginLocalBootstrapFolder Origin = iota + 1
	OriginLocalPackageFolder
	OriginEmbeddedContainer
	OriginRemoteServer
)

func (o Origin) String() string {
	switch o {
	case OriginLocalBootstrapFolder:
		return "bootstrap folder"
	case OriginLocalPackageFolder:
		return "package folder"
	case OriginEmbeddedContainer:
		return "package container"
	case OriginRemoteServer:
		return "remote server"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Produced reports whether artifacts of this origin are temporary files
// created by the locator rather than files that already existed.
func (o Origin) Produced() bool {
	return o == OriginEmbeddedContainer || o == OriginRemoteServer
}

// Request describes one lookup.
type Request struct {
	// LogicalName is the generic file name, e.g. "coapp.resources.dll".
	LogicalName string
	// Locale is a BCP 47 tag used to build the localized name. Empty
	// skips the localized tiers.
	Locale string
	// AllowRemote permits the network tiers.
	AllowRemote bool
	// ExtraServer is tried first among the servers, generic name only.
	ExtraServer string
}

// Candidate is a file that exists but has not passed the trust gate.
type Candidate struct {
	Path   string
	Origin Origin
	// Source is the URL or container the candidate was produced from.
	Source string
	// Sidecars are produced signature files next to Path.
	Sidecars []string
}

// discard removes a produced candidate and its sidecars. Local files are
// never touched.
func (c Candidate) discard() error {
	if !c.Origin.Produced() {
		return nil
	}
	var result *multierror.Error
	for _, p := range append([]string{c.Path}, c.Sidecars...) {
		if err := fsutil.RemoveIfExists(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// VerifiedArtifact is a candidate that passed the trust gate. The caller
// owns it and should call Release when done.
type VerifiedArtifact struct {
	Path   string
	Origin Origin
	Source string

	sidecars []string
}

// Temporary reports whether Release will delete the file.
func (a *VerifiedArtifact) Temporary() bool {
	return a != nil && a.Origin.Produced()
}

// Release deletes the artifact and its sidecars when they were produced
// by the locator. It is a no-op for local files.
func (a *VerifiedArtifact) Release() error {
	if a == nil {
		return nil
	}
	return Candidate{Path: a.Path, Origin: a.Origin, Sidecars: a.sidecars}.discard()
}

// Outcome is the result of one tier attempt.
type Outcome int

const (
	// OutcomeMissing means the tier produced no file.
	OutcomeMissing Outcome = iota + 1
	// OutcomeRejected means a file was found but failed the trust gate.
	OutcomeRejected
	// OutcomeAccepted means the file passed the trust gate.
	OutcomeAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMissing:
		return "missing"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAccepted:
		return "accepted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt records one tier evaluation for an Observer.
type Attempt struct {
	Tier    int
	Name    string
	Origin  Origin
	Source  string
	Outcome Outcome
	Err     error
}

// Observer is notified after every tier attempt.
type Observer func(Attempt)
