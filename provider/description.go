package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utilitywarehouse/mirror-discovery/giturl"
	"gopkg.in/yaml.v3"
)

// ErrMalformedDescription is reported when a project description is not a
// valid mirror directive. It is never returned by a Provider, affected
// projects are logged and skipped.
var ErrMalformedDescription = errors.New("description not valid")

// Description is the mirror directive stored in a project description
type Description struct {
	// Origin is the git URL of the upstream repository, required
	Origin string `yaml:"origin"`
	// Skip excludes the project from mirroring
	Skip bool `yaml:"skip"`
}

// rawDescription keeps origin as a node so that non text values
// (numbers, booleans, lists) can be rejected
type rawDescription struct {
	Origin yaml.Node `yaml:"origin"`
	Skip   bool      `yaml:"skip"`
}

// ParseDescription decodes raw description text as a YAML Description.
// Unknown keys are ignored, a missing or empty origin is an error and so
// is an origin which is not text.
func ParseDescription(raw string) (*Description, error) {
	desc := &rawDescription{}
	if err := yaml.Unmarshal([]byte(raw), desc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDescription, err)
	}

	switch {
	case desc.Origin.Kind == 0 || desc.Origin.ShortTag() == "!!null":
		return nil, fmt.Errorf("%w: origin is missing", ErrMalformedDescription)
	case desc.Origin.Kind != yaml.ScalarNode || desc.Origin.ShortTag() != "!!str":
		return nil, fmt.Errorf("%w: origin must be text, line %d: got %s",
			ErrMalformedDescription, desc.Origin.Line, desc.Origin.ShortTag())
	case strings.TrimSpace(desc.Origin.Value) == "":
		return nil, fmt.Errorf("%w: origin is missing", ErrMalformedDescription)
	}

	return &Description{Origin: desc.Origin.Value, Skip: desc.Skip}, nil
}

// MirrorFromDescription interprets the description of a single project.
// project identifies the project in logs (usually its web url) and destination
// is the clone url the mirror should be pushed to.
// It returns false if the project must be skipped, either because the
// description is not valid or because the skip flag is set.
func MirrorFromDescription(log *slog.Logger, providerName, project, description, destination string) (Mirror, bool) {
	desc, err := ParseDescription(description)
	if err != nil {
		log.Warn("skipping project, description not valid YAML", "project", project, "err", err)
		recordSkippedProject(providerName, skipReasonMalformed)
		return Mirror{}, false
	}

	if desc.Skip {
		log.Warn("skipping project, skip flag set", "project", project)
		recordSkippedProject(providerName, skipReasonFlag)
		return Mirror{}, false
	}

	// origin is passed on as is, downstream mirroring decides what it supports
	if _, err := giturl.Parse(desc.Origin); err != nil {
		log.Warn("origin is not a recognised git url", "project", project, "origin", desc.Origin, "err", err)
	}

	log.Log(context.Background(), LevelTrace, "mirror found", "origin", desc.Origin, "destination", destination)

	return Mirror{Origin: desc.Origin, Destination: destination}, true
}
