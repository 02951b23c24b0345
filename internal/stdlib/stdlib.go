// Package stdlib provides the host-backed native modules: yaml, term,
// db, and grpc. Each module contributes a set of natives registered on a
// VM at startup.
package stdlib

import "github.com/netesy/limitly/internal/vm"

// Register installs every stdlib native on the machine.
func Register(m *vm.VM) {
	registerYaml(m)
	registerTerm(m)
	registerDB(m)
	registerGrpc(m)
}
