package core

import (
	"testing"

	"mousedb/testutil"
)

func TestCoreIsStorageAgnostic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "core reaches storage through SnapshotBackend")
}
