package filelist

import "testing"

func TestSetOwnerAndLookup(t *testing.T) {
	c := New()
	c.SetOwner("/usr/bin/foo", "pkg-a")

	n, ok := c.Lookup("/usr/bin/foo")
	if !ok {
		t.Fatal("expected node to exist")
	}
	if n.Owner() != "pkg-a" {
		t.Fatalf("owner = %q, want pkg-a", n.Owner())
	}
}

func TestDiversionDualPointerInvariant(t *testing.T) {
	c := New()
	c.AddDiversion("dpkg-divert", "/etc/foo.conf", "/etc/foo.conf.distrib")

	to, ok := c.ResolveDiversion("/etc/foo.conf")
	if !ok || to != "/etc/foo.conf.distrib" {
		t.Fatalf("ResolveDiversion = %q, %v", to, ok)
	}

	fromNode, ok := c.Lookup("/etc/foo.conf")
	if !ok || !fromNode.HasFlag(FlagDiversion) {
		t.Fatal("from-side node should carry FlagDiversion")
	}
	toNode, ok := c.Lookup("/etc/foo.conf.distrib")
	if !ok || !toNode.HasFlag(FlagDiversion) {
		t.Fatal("to-side node should carry FlagDiversion")
	}

	fd, ok := fromNode.Diversion()
	if !ok {
		t.Fatal("expected from-node to resolve a Diversion")
	}
	td, ok := toNode.Diversion()
	if !ok {
		t.Fatal("expected to-node to resolve a Diversion")
	}
	if fd.Offset() != td.Offset() {
		t.Fatal("from and to sides must point to the same Diversion record")
	}
}

func TestDiversionLoadDropsUntouched(t *testing.T) {
	c := New()
	c.AddDiversion("pkgA", "/a", "/a.orig")

	c.BeginDiverLoad()
	// diversions file reloaded but no longer lists /a -> /a.orig
	c.FinishDiverLoad()

	if _, ok := c.ResolveDiversion("/a"); ok {
		t.Fatal("untouched diversion should have been dropped at FinishDiverLoad")
	}
}

func TestConfFileAttachesToOwnerOnly(t *testing.T) {
	c := New()
	c.AddConfFile("/etc/foo.conf", "pkg-a", "deadbeef")

	n, ok := c.Lookup("/etc/foo.conf")
	if !ok {
		t.Fatal("expected node to exist")
	}
	cfs := n.ConfFiles()
	if len(cfs) != 1 || cfs[0].Owner() != "pkg-a" || cfs[0].MD5() != "deadbeef" {
		t.Fatalf("unexpected conffiles: %+v", cfs)
	}
}

func TestMarkUnpackedAndRollbackEnumeration(t *testing.T) {
	c := New()
	c.SetOwner("/bin/a", "pkg-a")
	c.SetOwner("/bin/b", "pkg-a")
	c.MarkUnpacked("/bin/a")
	c.MarkNewFile("/bin/b")

	unpacked := c.UnpackedPaths()
	if len(unpacked) != 1 || unpacked[0] != "/bin/a" {
		t.Fatalf("unpacked = %v", unpacked)
	}
	newFiles := c.NewFilePaths()
	if len(newFiles) != 1 || newFiles[0] != "/bin/b" {
		t.Fatalf("newFiles = %v", newFiles)
	}

	c.ClearTransient("/bin/a")
	if len(c.UnpackedPaths()) != 0 {
		t.Fatal("ClearTransient should have removed the Unpacked flag")
	}
}

func TestDropNode(t *testing.T) {
	c := New()
	c.SetOwner("/bin/a", "pkg-a")
	c.DropNode("/bin/a")
	if _, ok := c.Lookup("/bin/a"); ok {
		t.Fatal("expected node to be gone after DropNode")
	}
}
