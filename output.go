package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/utilitywarehouse/mirror-discovery/provider"
	"gopkg.in/yaml.v3"
)

func writeMirrors(w io.Writer, format string, mirrors []provider.Mirror) error {
	if mirrors == nil {
		mirrors = []provider.Mirror{}
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(mirrors); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(mirrors)
	case "text":
		for _, m := range mirrors {
			if _, err := fmt.Fprintf(w, "%s -> %s\n", m.Origin, m.Destination); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output %q", format)
	}
}
