package source

import "context"

// Driver opens sources of one instrument family.
type Driver interface {
	// Open connects to the instrument at address and configures it for
	// repeated single-value reads. A failed Open is fatal to the run.
	Open(ctx context.Context, address string) (Source, error)
	// Kind names the instrument family, e.g. "scpi".
	Kind() string
}

// Source produces one scalar reading per call. Errors from Sample are
// transient; the caller keeps sampling.
type Source interface {
	Sample(ctx context.Context) (float64, error)
	Close() error
}

// Identifier is implemented by sources that can describe the connected
// instrument.
type Identifier interface {
	Identity() Identity
}

// Identity describes a connected instrument.
type Identity struct {
	Vendor   string
	Model    string
	Serial   string
	Firmware string
	Unit     string
}
