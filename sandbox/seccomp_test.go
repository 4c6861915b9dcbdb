package sandbox

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/bpf"
)

// seccompData lays out struct seccomp_data for the BPF VM. The VM loads
// words big endian where the kernel uses native order, so the fields are
// stored big endian here.
func seccompData(arch, nr, arg0 uint32) []byte {
	b := make([]byte, 64)
	binary.BigEndian.PutUint32(b[seccompDataNr:], nr)
	binary.BigEndian.PutUint32(b[seccompDataArch:], arch)
	binary.BigEndian.PutUint32(b[seccompDataArg0:], arg0)
	return b
}

func TestNoSpawnFilter(t *testing.T) {
	const (
		allow  = seccompRetAllow
		eperm  = seccompRetErrno | errnoEPERM
		enosys = seccompRetErrno | errnoENOSYS
		kill   = seccompRetKillProcess

		amd64 = 0xc000003e
		arm64 = 0xc00000b7
		i386  = 0x40000003

		sigchld  = 0x11
		threadVM = cloneThread | 0x100
	)
	tests := []struct {
		name   string
		goarch string
		arch   uint32
		nr     uint32
		arg0   uint32
		want   uint32
	}{
		{"amd64 read", "amd64", amd64, 0, 0, allow},
		{"amd64 execve", "amd64", amd64, 59, 0, allow},
		{"amd64 fork", "amd64", amd64, 57, 0, eperm},
		{"amd64 vfork", "amd64", amd64, 58, 0, eperm},
		{"amd64 clone process", "amd64", amd64, 56, sigchld, eperm},
		{"amd64 clone thread", "amd64", amd64, 56, threadVM, allow},
		{"amd64 clone3", "amd64", amd64, 435, 0, enosys},
		{"amd64 x32 fork", "amd64", amd64, 0x40000000 | 57, 0, eperm},
		{"amd64 foreign arch", "amd64", i386, 2, 0, kill},
		{"arm64 close", "arm64", arm64, 57, 0, allow},
		{"arm64 clone process", "arm64", arm64, 220, sigchld, eperm},
		{"arm64 clone thread", "arm64", arm64, 220, threadVM, allow},
		{"arm64 clone3", "arm64", arm64, 435, 0, enosys},
		{"arm64 foreign arch", "arm64", amd64, 56, 0, kill},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := NoSpawnFilter(tt.goarch)
			if err != nil {
				t.Fatalf("NoSpawnFilter: %v", err)
			}
			vm, err := bpf.NewVM(prog)
			if err != nil {
				t.Fatalf("NewVM: %v", err)
			}
			got, err := vm.Run(seccompData(tt.arch, tt.nr, tt.arg0))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if uint32(got) != tt.want {
				t.Errorf("action = %#x, want %#x", uint32(got), tt.want)
			}
		})
	}
}

func TestNoSpawnFilter_UnknownArch(t *testing.T) {
	if _, err := NoSpawnFilter("riscv64"); err == nil {
		t.Error("expected an error for an architecture without a syscall table")
	}
}

func TestEncodeSeccomp(t *testing.T) {
	prog, err := NoSpawnFilter("amd64")
	if err != nil {
		t.Fatal(err)
	}
	data, err := encodeSeccomp(prog)
	if err != nil {
		t.Fatalf("encodeSeccomp: %v", err)
	}
	if len(data) != 8*len(prog) {
		t.Fatalf("len = %d, want %d", len(data), 8*len(prog))
	}
	// ld [4]: BPF_LD|BPF_W|BPF_ABS, k=4.
	want := []byte{0x20, 0x00, 0, 0, 4, 0, 0, 0}
	if diff := cmp.Diff(want, data[:8]); diff != "" {
		t.Errorf("first instruction mismatch (-want +got):\n%s", diff)
	}
}
