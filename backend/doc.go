// Package backend defines the opaque agent capability the gateway fronts:
// a factory for stateful conversation handles, the pull-based event stream
// an invocation produces, and the clear/close lifecycle the session pool
// relies on. The production adapter lives in backend/agentcli; tests use
// the scripted mock in testutil/mocks.
package backend
