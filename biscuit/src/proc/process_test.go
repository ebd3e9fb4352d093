package proc

import (
	"bytes"
	"io"
	"testing"
	"time"

	"coremap"
	"defs"
	"tlb"
	"vm"
)

// fakeLoader stands in for ELF loading (out of scope here, see DESIGN.md):
// it defines a single rx code region and reports a fixed entry point,
// without actually reading src.
type fakeLoader struct{}

func (fakeLoader) LoadSegments(as *vm.AddrSpace, src io.Reader) (vm.VAddr, defs.Err_t) {
	if err := as.DefineRegion(0x00400000, 0x1000, true, false, true); err != 0 {
		return 0, err
	}
	return 0x00400000, 0
}

func newTestTable(t *testing.T) (*Table, *vm.World) {
	t.Helper()
	world := vm.NewWorld(64, 128, tlb.PolicyRandom, vm.ReplaceRandom, 1)
	return NewTable(world), world
}

func TestAllocateAssignsPidsAndParent(t *testing.T) {
	table, _ := newTestTable(t)
	a, err := table.Allocate(defs.NoPid)
	if err != 0 {
		t.Fatalf("Allocate() err = %v", err)
	}
	b, err := table.Allocate(a.Pid)
	if err != 0 {
		t.Fatalf("Allocate() err = %v", err)
	}
	if a.Pid != 1 || b.Pid != 2 {
		t.Fatalf("pids = (%d, %d), want (1, 2)", a.Pid, b.Pid)
	}
	if b.ParentPid != a.Pid {
		t.Fatalf("child ParentPid = %d, want %d", b.ParentPid, a.Pid)
	}
	if !table.Exists(a.Pid) || !table.Exists(b.Pid) {
		t.Fatal("Exists() false for an allocated pid")
	}
}

func TestRemoveFreesSlot(t *testing.T) {
	table, _ := newTestTable(t)
	p, _ := table.Allocate(defs.NoPid)
	table.Remove(p.Pid)
	if table.Exists(p.Pid) {
		t.Fatal("Exists() true after Remove")
	}
	reused, _ := table.Allocate(defs.NoPid)
	if reused.Pid != p.Pid {
		t.Fatalf("Allocate() after Remove gave pid %d, want reused pid %d", reused.Pid, p.Pid)
	}
}

func TestForkCopiesAddrSpace(t *testing.T) {
	table, world := newTestTable(t)
	parent, _ := table.Allocate(defs.NoPid)
	parent.AS = world.CreateAddrSpace(parent.Pid)

	child, err := table.Fork(parent)
	if err != 0 {
		t.Fatalf("Fork() err = %v", err)
	}
	if child.ParentPid != parent.Pid {
		t.Fatalf("child ParentPid = %d, want %d", child.ParentPid, parent.Pid)
	}
	if child.AS == nil || child.AS == parent.AS {
		t.Fatal("Fork() did not give the child its own address space")
	}
}

// Waitpid rendezvous (spec property 8, scenario S5): waitpid blocks
// until the child exits, then observes its exit code and frees the pid.
func TestWaitpidRendezvous(t *testing.T) {
	table, _ := newTestTable(t)
	parent, _ := table.Allocate(defs.NoPid)
	child, _ := table.Allocate(parent.Pid)

	go func() {
		time.Sleep(10 * time.Millisecond)
		child.Exit(42)
	}()

	gotPid, status, err := table.Waitpid(parent, child.Pid, 0)
	if err != 0 {
		t.Fatalf("Waitpid() err = %v", err)
	}
	if gotPid != child.Pid || status != 42 {
		t.Fatalf("Waitpid() = (%d, %d), want (%d, 42)", gotPid, status, child.Pid)
	}
	if table.Exists(child.Pid) {
		t.Fatal("child pid still exists after Waitpid")
	}
}

func TestWaitpidNoHangReturnsImmediately(t *testing.T) {
	table, _ := newTestTable(t)
	parent, _ := table.Allocate(defs.NoPid)
	child, _ := table.Allocate(parent.Pid)

	pid, _, err := table.Waitpid(parent, child.Pid, WNoHang)
	if err != 0 || pid != 0 {
		t.Fatalf("Waitpid(WNoHang) on a running child = (%d, err=%v), want (0, 0)", pid, err)
	}
}

// Fixed bug: waitpid gates on the explicit ParentPid field, not the
// original source's buggy pid <= curthread.pid comparison.
func TestWaitpidRejectsNonParent(t *testing.T) {
	table, _ := newTestTable(t)
	parent, _ := table.Allocate(defs.NoPid)
	unrelated, _ := table.Allocate(defs.NoPid)
	child, _ := table.Allocate(parent.Pid)

	if _, _, err := table.Waitpid(unrelated, child.Pid, WNoHang); err != defs.EINVAL {
		t.Fatalf("Waitpid() by a non-parent err = %v, want EINVAL", err)
	}
}

func TestWaitpidAccumulatesChildAccounting(t *testing.T) {
	table, _ := newTestTable(t)
	parent, _ := table.Allocate(defs.NoPid)
	child, _ := table.Allocate(parent.Pid)
	child.Accnt.Utadd(1000)

	child.Exit(0)
	table.Waitpid(parent, child.Pid, 0)

	if parent.Accnt.Userns < 1000 {
		t.Fatalf("parent Userns = %d after reaping child, want >= 1000", parent.Accnt.Userns)
	}
}

func TestSyscallEncodesSuccessAndAdvancesEPC(t *testing.T) {
	epc, v0, a3 := Syscall(0x4000, 7, 0)
	if epc != 0x4004 {
		t.Fatalf("epc = %#x, want %#x", epc, 0x4004)
	}
	if v0 != 7 || a3 != 0 {
		t.Fatalf("(v0, a3) = (%d, %d), want (7, 0)", v0, a3)
	}
}

// Execv pushes argv onto the new stack as a NULL-terminated, 4-byte
// aligned array of pointers into a packed argument-string area,
// matching runprogram_args's layout.
func TestExecvPushesArgv(t *testing.T) {
	table, world := newTestTable(t)
	p, _ := table.Allocate(defs.NoPid)

	argv := [][]byte{[]byte("init"), []byte("-v")}
	entry, sp, err := table.Execv(p, fakeLoader{}, argv, bytes.NewReader(nil))
	if err != 0 {
		t.Fatalf("Execv() err = %v", err)
	}
	if entry != 0x00400000 {
		t.Fatalf("entry = %v, want 0x400000", entry)
	}
	if sp%ptrSize != 0 {
		t.Fatalf("sp = %v is not %d-byte aligned", sp, ptrSize)
	}

	readWord := func(va vm.VAddr) uint32 {
		idx, found := world.Coremap.Find(coremap.VAddr((va/4096)*4096), p.Pid)
		if !found {
			t.Fatalf("no resident frame backing %v", va)
		}
		b := world.Coremap.Bytes(idx)
		off := int(va % 4096)
		return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	}

	ptr0 := readWord(sp)
	ptr1 := readWord(sp + ptrSize)
	null := readWord(sp + 2*ptrSize)
	if null != 0 {
		t.Fatalf("argv vector missing NULL terminator, got %#x", null)
	}
	if ptr0 == 0 || ptr1 == 0 {
		t.Fatalf("argv pointers = (%#x, %#x), want both non-zero", ptr0, ptr1)
	}

	readCString := func(addr uint32) string {
		var buf []byte
		for i := 0; ; i++ {
			va := vm.VAddr(addr) + vm.VAddr(i)
			idx, found := world.Coremap.Find(coremap.VAddr((va/4096)*4096), p.Pid)
			if !found {
				t.Fatalf("no resident frame backing string byte at %v", va)
			}
			b := world.Coremap.Bytes(idx)[int(va%4096)]
			if b == 0 {
				break
			}
			buf = append(buf, b)
		}
		return string(buf)
	}

	if got := readCString(ptr0); got != "init" {
		t.Fatalf("argv[0] = %q, want %q", got, "init")
	}
	if got := readCString(ptr1); got != "-v" {
		t.Fatalf("argv[1] = %q, want %q", got, "-v")
	}
}

func TestSyscallEncodesError(t *testing.T) {
	_, v0, a3 := Syscall(0x4000, 0, defs.EINVAL)
	if a3 != 1 {
		t.Fatalf("a3 = %d on error, want 1", a3)
	}
	if v0 != int64(defs.EINVAL) {
		t.Fatalf("v0 = %d, want %d", v0, defs.EINVAL)
	}
}
