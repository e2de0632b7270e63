// Package shared holds helpers used across the sessiongate codebase that do
// not belong to any single layer.
//
// # Test Utilities
//
// The testutil subpackage provides:
//
//	- BufferedSlogHandler, a slog.Handler that captures records so tests can
//	  assert on log output (for example that raw license keys never appear)
//	- License seed fixtures and a helper that writes them as a YAML seed file
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    seed := testutil.WriteSeedFile(t, testutil.DefaultSeed()...)
//	    ...
//	    testutil.AssertNoErrors(t, logs)
//	}
//
// testutil must not import other internal packages so that any package's
// tests can use it.
package shared
