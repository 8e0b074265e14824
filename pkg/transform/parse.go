package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse builds a pipeline from short textual specs as used in config files:
//
//	flip:<axis>[:<p>]   RandomFlip, p defaults to 0.5
//	rot90               RandomRot90
//	identity            Identity
func Parse(specs []string) (Compose, error) {
	var out Compose
	for _, spec := range specs {
		parts := strings.Split(strings.TrimSpace(spec), ":")
		switch strings.ToLower(parts[0]) {
		case "flip":
			if len(parts) < 2 || len(parts) > 3 {
				return nil, fmt.Errorf("flip spec %q: want flip:<axis>[:<p>]", spec)
			}
			axis, err := strconv.Atoi(parts[1])
			if err != nil || axis < 0 {
				return nil, fmt.Errorf("flip spec %q: bad axis", spec)
			}
			p := 0.5
			if len(parts) == 3 {
				if p, err = strconv.ParseFloat(parts[2], 64); err != nil || p < 0 || p > 1 {
					return nil, fmt.Errorf("flip spec %q: probability must be in [0, 1]", spec)
				}
			}
			out = append(out, RandomFlip{Axis: axis, P: p})
		case "rot90":
			out = append(out, RandomRot90{})
		case "identity", "":
			out = append(out, Identity{})
		default:
			return nil, fmt.Errorf("unknown transform %q", spec)
		}
	}
	return out, nil
}
