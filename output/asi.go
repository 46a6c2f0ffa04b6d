package output

import "fmt"

// ASIWriter is the contract a real DVB-ASI card driver would implement.
// Vendor ASI SDKs are cgo/hardware territory out of scope here (spec.md
// §1); NewASIWriter instead returns a loopback FileWriter under this
// interface, named by card index, so a pipeline configured for an ASI
// destination can still be built and exercised end to end in tests.
type ASIWriter interface {
	Writer
}

// NewASIWriter returns a loopback stand-in for asi:N: it writes to
// asi-card-N.ts in the working directory rather than a real card.
func NewASIWriter(t Target) (ASIWriter, error) {
	if t.Scheme != SchemeASI {
		return nil, fmt.Errorf("output: NewASIWriter requires an asi: target, got scheme %d", t.Scheme)
	}
	return NewFileWriter(Target{Scheme: SchemeFile, Path: fmt.Sprintf("asi-card-%d.ts", t.ASI)})
}
