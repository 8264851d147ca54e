package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcetap/sourcetap/internal/core/engine"
)

type factory func(opts engine.Options) engine.Source

var factories = map[string]factory{
	USGSName:      func(opts engine.Options) engine.Source { return NewUSGS(opts) },
	WorldBankName: func(opts engine.Options) engine.Source { return NewWorldBank(opts) },
	OpenMeteoName: func(opts engine.Options) engine.Source { return NewOpenMeteo(opts) },
}

// Names returns the known source identifiers in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named source.
func Build(name string, opts engine.Options) (engine.Source, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	f, ok := factories[key]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", name)
	}
	return f(opts), nil
}
