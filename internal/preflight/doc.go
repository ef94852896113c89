// Package preflight provides readiness checks for the directories, external
// programs, and kernel facilities scannerbot depends on.
//
// These checks run in two contexts:
//   - The bus logs a dependency snapshot at startup and warns about failures
//     without refusing to run, since the operator may fix them before "start".
//   - The "scannerbot check" command renders every result as a table and
//     exits non-zero when a required check fails.
package preflight
