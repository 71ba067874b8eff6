// Package botproc supervises one isolated bot worker process per tenant
// token.
//
// Each worker is a real OS process: a crash or runaway loop in one tenant's
// bot cannot affect the panel or other tenants. The registry is owned by a
// single Manager instance and guarded by a mutex; there is no package-level
// state. The only channel back from a worker is its stdout/stderr, which the
// Manager drains into the operator log on background goroutines.
package botproc
