// Package shared groups helpers used across the tenderscope packages that
// belong to no single pipeline stage.
//
// # Test Utilities
//
// The testutil subpackage provides:
//
//   - BufferedSlogHandler, a slog.Handler that captures records (including
//     those of loggers derived with With and WithGroup) for assertions
//   - procurement CSV fixtures for the end-to-end scoring scenarios
//   - WriteFixture, which materializes a fixture in a per-test temp dir
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//		logger, logs := testutil.NewTestLogger(t)
//		path := testutil.WriteFixture(t, "items.csv", testutil.ScenarioACSV)
//
//		// run the code under test with logger and path
//		testutil.AssertNoErrors(t, logs)
//	}
//
// testutil imports no tenderscope package, so every package may use it in
// its tests.
package shared
