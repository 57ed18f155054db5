package workflow

import (
	"testing"

	"casewizard/testutil"
)

func TestEngineDoesNotImportDrivers(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "drivers are wired by internal/app")
}
