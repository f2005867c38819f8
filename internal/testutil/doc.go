// Package testutil provides fixtures and a controllable clock for tests.
package testutil
