package sandbox

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"
)

// SeccompFD is the descriptor number bwrap reads the seccomp program from.
// It is the first of exec.Cmd.ExtraFiles.
const SeccompFD = 3

const (
	seccompRetAllow       = 0x7fff0000
	seccompRetErrno       = 0x00050000
	seccompRetKillProcess = 0x80000000

	errnoEPERM  = 1
	errnoENOSYS = 38

	cloneThread = 0x00010000
)

// Offsets into struct seccomp_data.
const (
	seccompDataNr   = 0
	seccompDataArch = 4
	// Low half of args[0]; both supported architectures are little endian.
	seccompDataArg0 = 16
)

type seccompArch struct {
	audit uint32
	// fork and vfork are zero where the syscall does not exist.
	fork, vfork   uint32
	clone, clone3 uint32
	// x32 marks syscall numbers of the x32 ABI.
	x32 uint32
}

var seccompArches = map[string]seccompArch{
	"amd64": {audit: 0xc000003e, fork: 57, vfork: 58, clone: 56, clone3: 435, x32: 0x40000000},
	"arm64": {audit: 0xc00000b7, clone: 220, clone3: 435},
}

// NoSpawnFilter returns a seccomp program that refuses to create
// processes. fork and vfork fail with EPERM, clone fails unless it creates
// a thread, and clone3 reports ENOSYS so runtimes fall back to clone.
// Syscalls from a foreign architecture kill the process.
func NoSpawnFilter(goarch string) ([]bpf.Instruction, error) {
	a, ok := seccompArches[goarch]
	if !ok {
		return nil, fmt.Errorf("no seccomp filter for %s", goarch)
	}

	// Jump targets, counted from the first instruction after the checks.
	const (
		toClone  = 1
		toDeny   = 3
		toENOSYS = 4
	)
	type check struct {
		cond   bpf.JumpTest
		val    uint32
		target int
	}
	var checks []check
	if a.x32 != 0 {
		checks = append(checks, check{bpf.JumpGreaterOrEqual, a.x32, toDeny})
	}
	for _, nr := range []uint32{a.fork, a.vfork} {
		if nr != 0 {
			checks = append(checks, check{bpf.JumpEqual, nr, toDeny})
		}
	}
	checks = append(checks,
		check{bpf.JumpEqual, a.clone3, toENOSYS},
		check{bpf.JumpEqual, a.clone, toClone},
	)

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataArch, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: a.audit, SkipTrue: 1},
		bpf.RetConstant{Val: seccompRetKillProcess},
		bpf.LoadAbsolute{Off: seccompDataNr, Size: 4},
	}
	for i, c := range checks {
		prog = append(prog, bpf.JumpIf{Cond: c.cond, Val: c.val, SkipTrue: uint8(len(checks) - i - 1 + c.target)})
	}
	return append(prog,
		bpf.RetConstant{Val: seccompRetAllow},
		bpf.LoadAbsolute{Off: seccompDataArg0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: cloneThread, SkipTrue: 2},
		bpf.RetConstant{Val: seccompRetErrno | errnoEPERM},
		bpf.RetConstant{Val: seccompRetErrno | errnoENOSYS},
		bpf.RetConstant{Val: seccompRetAllow},
	), nil
}

// encodeSeccomp assembles prog into the struct sock_filter array bwrap
// expects on its --seccomp descriptor.
func encodeSeccomp(prog []bpf.Instruction) ([]byte, error) {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 8*len(raw))
	for _, ins := range raw {
		out = binary.LittleEndian.AppendUint16(out, ins.Op)
		out = append(out, ins.Jt, ins.Jf)
		out = binary.LittleEndian.AppendUint32(out, ins.K)
	}
	return out, nil
}
