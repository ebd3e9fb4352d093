// Package proc implements the process table and process lifecycle
// (fork/execv/waitpid/_exit), grounded on original_source's
// kern/thread/process.c and kern/userprog/syscalls.c, and on biscuit's
// tinfo/accnt pattern of a mutex-protected record reached through a
// package-level table rather than a raw pointer.
package proc

import (
	"encoding/binary"
	"io"
	"sync"

	"accnt"
	"defs"
	"limits"
	"vm"
)

// ptrSize is the width of one argv pointer-vector slot, matching
// original_source's sizeof(userptr_t) on a 32-bit target.
const ptrSize = 4

// MaxProcesses bounds the process table, matching original_source's
// MAX_PROCESSES; process_table[0] is never assigned, so pids run 1..MaxProcesses.
const MaxProcesses = 4096

/// Process is one process table record.
type Process struct {
	mu sync.Mutex

	Pid       defs.Pid_t
	ParentPid defs.Pid_t
	AS        *vm.AddrSpace
	Accnt     *accnt.Accnt_t

	exited    bool
	exitCode  int
	exitCV    *sync.Cond
	startedNs int
}

/// Exited reports whether the process has called Exit.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

/// Table is the process table: pid -> *Process, plus the VM world every
// process's address space is carved out of.
type Table struct {
	mu    sync.Mutex
	world *vm.World
	procs [MaxProcesses + 1]*Process
}

/// NewTable implements process_bootstrap.
func NewTable(world *vm.World) *Table {
	return &Table{world: world}
}

/// Allocate implements pid_allocate: reserve the first free table slot
// for a new child of parent, creating its exit condition variable.
func (t *Table) Allocate(parent defs.Pid_t) (*Process, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, defs.ENOMEM
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for pid := 1; pid <= MaxProcesses; pid++ {
		if t.procs[pid] == nil {
			p := &Process{Pid: defs.Pid_t(pid), ParentPid: parent}
			p.exitCV = sync.NewCond(&p.mu)
			p.Accnt = &accnt.Accnt_t{}
			p.startedNs = p.Accnt.Now()
			t.procs[pid] = p
			return p, 0
		}
	}
	limits.Syslimit.Sysprocs.Give()
	return nil, defs.ENOMEM
}

/// Exists implements pid_exists.
func (t *Table) Exists(pid defs.Pid_t) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return pid >= 1 && int(pid) <= MaxProcesses && t.procs[pid] != nil
}

/// Get implements get_process.
func (t *Table) Get(pid defs.Pid_t) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid < 1 || int(pid) > MaxProcesses {
		return nil, false
	}
	p := t.procs[pid]
	return p, p != nil
}

/// Remove implements remove_process.
func (t *Table) Remove(pid defs.Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.procs[pid] != nil {
		limits.Syslimit.Sysprocs.Give()
	}
	t.procs[pid] = nil
}

/// Fork implements sys_fork's process-table half: allocate a child
// record and an identical copy of the parent's address space.
func (t *Table) Fork(parent *Process) (*Process, defs.Err_t) {
	child, err := t.Allocate(parent.Pid)
	if err != 0 {
		return nil, err
	}
	as, err := t.world.CopyAddrSpace(parent.AS, child.Pid)
	if err != 0 {
		t.Remove(child.Pid)
		return nil, err
	}
	child.AS = as
	return child, 0
}

/// Loader loads a program image's segments into a freshly created
// address space and reports its entry point. execv's narrow collaborator
// boundary: ELF parsing is out of scope, so callers supply whatever
// loader their test or demo needs.
type Loader interface {
	LoadSegments(as *vm.AddrSpace, src io.Reader) (entry vm.VAddr, err defs.Err_t)
}

/// Execv implements sys_execv's address-space replacement: destroy the
// old address space only after the new one has been fully built and
// validated, matching original_source's ordering (load failures must not
// leave the caller without a usable address space). argv is then pushed
// onto the new stack following runprogram_args: the argument strings
// packed just below the top of stack, followed by a 4-byte aligned,
// NULL-terminated array of pointers into that packed area.
func (t *Table) Execv(p *Process, loader Loader, argv [][]byte, src io.Reader) (vm.VAddr, vm.VAddr, defs.Err_t) {
	newAS := t.world.CreateAddrSpace(p.Pid)
	entry, err := loader.LoadSegments(newAS, src)
	if err != 0 {
		return 0, 0, err
	}
	if err := newAS.PrepareLoad(t.world); err != 0 {
		return 0, 0, err
	}
	newAS.CompleteLoad()
	top := newAS.DefineStack()

	sp, err := pushArgv(t.world, p.Pid, top, argv)
	if err != 0 {
		return 0, 0, err
	}

	old := p.AS
	p.AS = newAS
	if old != nil {
		old.Destroy(t.world)
	}
	newAS.Activate(t.world)
	return entry, sp, 0
}

// pushArgv writes argv's NUL-terminated bytes, then its NULL-terminated
// pointer vector, below top, and returns the resulting stack pointer —
// the base of the pointer vector itself. runprogram_args instead returns
// stack+ptrSize, one slot above that base, overlapping argv[0]'s own
// pointer; that is not reproduced here, matching how free_kpages's and
// waitpid's bugs were fixed rather than carried forward.
func pushArgv(w *vm.World, pid defs.Pid_t, top vm.VAddr, argv [][]byte) (vm.VAddr, defs.Err_t) {
	offsets := make([]int, len(argv))
	buflen := 0
	for i, arg := range argv {
		offsets[i] = buflen
		buflen += len(arg) + 1
	}

	stack := top - vm.VAddr(buflen)
	stack -= stack % ptrSize
	argBase := stack

	for i, arg := range argv {
		dst := argBase + vm.VAddr(offsets[i])
		if err := w.WriteUserBytes(pid, dst, append(append([]byte{}, arg...), 0)); err != 0 {
			return 0, err
		}
	}

	stack -= vm.VAddr((len(argv) + 1) * ptrSize)
	vecBase := stack
	var word [ptrSize]byte
	for i := range argv {
		binary.LittleEndian.PutUint32(word[:], uint32(argBase+vm.VAddr(offsets[i])))
		if err := w.WriteUserBytes(pid, vecBase+vm.VAddr(i*ptrSize), word[:]); err != 0 {
			return 0, err
		}
	}
	binary.LittleEndian.PutUint32(word[:], 0)
	if err := w.WriteUserBytes(pid, vecBase+vm.VAddr(len(argv)*ptrSize), word[:]); err != 0 {
		return 0, err
	}

	return vecBase, 0
}

/// Exit implements sys__exit: finalize accounting, record the exit
// code, and wake every waiter.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	p.Accnt.Finish(p.startedNs)
	p.exited = true
	p.exitCode = code
	p.exitCV.Broadcast()
	p.mu.Unlock()
}

// WNoHang mirrors original_source's WNOHANG waitpid option value.
const WNoHang = 1

/// Waitpid implements sys_waitpid, fixing the source's parent check: the
// original compares pid <= curthread.pid as a stand-in for "is this my
// child", which rejects legitimate waits on higher-numbered children and
// accepts waits on unrelated lower-numbered ones. This instead checks the
// process record's own ParentPid field.
func (t *Table) Waitpid(caller *Process, pid defs.Pid_t, options int) (defs.Pid_t, int, defs.Err_t) {
	if options != 0 && options != WNoHang {
		return 0, 0, defs.EINVAL
	}
	target, ok := t.Get(pid)
	if !ok || target.ParentPid != caller.Pid {
		return 0, 0, defs.EINVAL
	}

	target.mu.Lock()
	if !target.exited && options == WNoHang {
		target.mu.Unlock()
		return 0, 0, 0
	}
	for !target.exited {
		target.exitCV.Wait()
	}
	code := target.exitCode
	target.mu.Unlock()

	caller.Accnt.Add(target.Accnt)
	t.Remove(pid)
	return pid, code, 0
}

/// Syscall is the thin boundary between a syscall implementation's
// (retval, Err_t) pair and the trap frame a thread resumes into: it
// encodes the pair as the (v0, a3) values original_source's syscall
// trampoline expects and advances epc past the syscall instruction.
// Dispatching which syscall ran is out of scope; every syscall
// implementation funnels its result through this one translation.
func Syscall(epc uintptr, retval int64, err defs.Err_t) (newEpc uintptr, v0 int64, a3 int64) {
	v0, a3 = defs.SyscallResult(retval, err)
	return defs.AdvanceEPC(epc), v0, a3
}
