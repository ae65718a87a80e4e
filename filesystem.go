// filesystem.go - maps guest file descriptors onto host POSIX operations
// rooted at a configurable host directory.
//
// Grounded field-for-field on
// original_source/MINIXCompat/MINIXCompat_Filesystem.c: path rooting
// (MINIXCompat_Filesystem_CopyHostPathForPath), the fixed 20-slot
// descriptor table, open-flag and mode-bit translation tables, and the
// stat/fstat translation (mode mapping, size clamp, byte-swap before
// return) all come from there. Directory pre-caching and inode squeezing
// are not in the original source (it never implements directory reads at
// all) and are built fresh in its style, reading via golang.org/x/sys/unix
// the way the rest of this file calls through to host syscalls.

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FDCount is the number of guest file descriptor slots, matching the
// MINIX NR_FILPS-derived table size.
const FDCount = 20

// MINIX open flags, as they appear on the wire.
const (
	MinixOCreat    uint16 = 0o0100
	MinixOExcl     uint16 = 0o0200
	MinixONoctty   uint16 = 0o0400
	MinixOTrunc    uint16 = 0o1000
	MinixOAppend   uint16 = 0o2000
	MinixONonblock uint16 = 0o4000
	MinixORdonly   uint16 = 0o0000
	MinixOWronly   uint16 = 0o0001
	MinixORdwr     uint16 = 0o0002
)

// MINIX stat mode bits.
const (
	MinixSIFMT  uint16 = 0o170000
	MinixSIFREG uint16 = 0o100000
	MinixSIFBLK uint16 = 0o060000
	MinixSIFDIR uint16 = 0o040000
	MinixSIFCHR uint16 = 0o020000
	MinixSIFIFO uint16 = 0o010000
	MinixSISUID uint16 = 0o004000
	MinixSISGID uint16 = 0o002000
	MinixSISVTX uint16 = 0o001000
	MinixSIRUSR uint16 = 0o000400
	MinixSIWUSR uint16 = 0o000200
	MinixSIXUSR uint16 = 0o000100
	MinixSIRGRP uint16 = 0o000040
	MinixSIWGRP uint16 = 0o000020
	MinixSIXGRP uint16 = 0o000010
	MinixSIROTH uint16 = 0o000004
	MinixSIWOTH uint16 = 0o000002
	MinixSIXOTH uint16 = 0o000001
)

// Whence codes for MINIX seek.
const (
	MinixSeekSet int16 = 0
	MinixSeekCur int16 = 1
	MinixSeekEnd int16 = 2
)

// DirentSize is the size of one synthesized MINIX directory entry.
const DirentSize = 16

// fdType distinguishes what kind of host object a slot wraps.
type fdType int

const (
	fdUnchecked fdType = iota
	fdFile
	fdDirectory
)

// fdSlot is one entry of the descriptor table. DirCache holds the
// synthesized 16-byte-per-entry directory image once a directory has been
// opened and pre-read; DirOffset tracks the current read/seek position into
// it, in bytes.
type fdSlot struct {
	HostFD    int
	GuestFD   int16
	Kind      fdType
	DirCache  []byte
	DirOffset int
}

func (s *fdSlot) isOpen() bool { return s.HostFD != -1 }

func (s *fdSlot) clear() {
	s.HostFD = -1
	s.GuestFD = -1
	s.Kind = fdUnchecked
	s.DirCache = nil
	s.DirOffset = 0
}

// Filesystem owns the guest's root directory, current working directory,
// and descriptor table.
type Filesystem struct {
	root       string
	cwd        string // guest-visible cwd, e.g. "/usr/ast"
	cwdHost    string // host path the cwd resolves to
	fds        [FDCount]fdSlot
}

// NewFilesystem establishes the root and descriptor table, pre-binding
// slots 0/1/2 to host stdin/stdout/stderr, and resolves the initial cwd:
// from minixPWD if set, else from the host cwd if it lies under root, else
// "/".
func NewFilesystem(root, minixPWD string) (*Filesystem, error) {
	fs := &Filesystem{root: root}

	fs.fds[0] = fdSlot{HostFD: int(os.Stdin.Fd()), GuestFD: 0, Kind: fdFile}
	fs.fds[1] = fdSlot{HostFD: int(os.Stdout.Fd()), GuestFD: 1, Kind: fdFile}
	fs.fds[2] = fdSlot{HostFD: int(os.Stderr.Fd()), GuestFD: 2, Kind: fdFile}
	for i := 3; i < FDCount; i++ {
		fs.fds[i].clear()
		fs.fds[i].GuestFD = int16(i)
	}

	if minixPWD != "" {
		fs.SetWorkingDirectory(minixPWD)
		return fs, nil
	}

	hostCwd, err := os.Getwd()
	if err == nil && pathContains(root, hostCwd) {
		fs.SetWorkingDirectory(hostCwd[len(root):])
	} else {
		fs.SetWorkingDirectory("/")
	}
	return fs, nil
}

func pathContains(root, candidate string) bool {
	if len(root) > len(candidate) {
		return false
	}
	return candidate[:len(root)] == root
}

// HostPathForPath joins the guest root or cwd onto path, matching
// CopyHostPathForPath: absolute guest paths are rooted at root, relative
// ones at the current host cwd.
func (fs *Filesystem) HostPathForPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return fs.root + path
	}
	return fs.cwdHost + "/" + path
}

// WorkingDirectory returns the guest-visible current working directory.
func (fs *Filesystem) WorkingDirectory() string { return fs.cwd }

// SetWorkingDirectory sets the guest cwd and performs a host chdir to the
// corresponding host path. Whether mwd is actually inside root is not
// validated here, matching the upstream behavior.
func (fs *Filesystem) SetWorkingDirectory(mwd string) {
	fs.cwd = mwd
	fs.cwdHost = fs.HostPathForPath(mwd)
	_ = unix.Chdir(fs.cwdHost)
}

func (fs *Filesystem) findNextAvailable() (int16, error) {
	for i := 0; i < FDCount; i++ {
		if !fs.fds[i].isOpen() {
			return int16(i), nil
		}
	}
	return 0, fmt.Errorf("minixcompat: no free descriptor slots: %w", unix.ENFILE)
}

func hostOpenFlags(minixFlags uint16) int {
	flags := 0
	if minixFlags&MinixOCreat != 0 {
		flags |= unix.O_CREAT
	}
	if minixFlags&MinixOExcl != 0 {
		flags |= unix.O_EXCL
	}
	if minixFlags&MinixONoctty != 0 {
		flags |= unix.O_NOCTTY
	}
	if minixFlags&MinixOTrunc != 0 {
		flags |= unix.O_TRUNC
	}
	if minixFlags&MinixOAppend != 0 {
		flags |= unix.O_APPEND
	}
	if minixFlags&MinixONonblock != 0 {
		flags |= unix.O_NONBLOCK
	}
	switch minixFlags & 0o3 {
	case MinixOWronly:
		flags |= unix.O_WRONLY
	case MinixORdwr:
		flags |= unix.O_RDWR
	}
	return flags
}

func hostOpenMode(minixMode uint16) uint32 {
	var m uint32
	if minixMode&MinixSIFMT == MinixSIFREG {
		m |= unix.S_IFREG
	}
	if minixMode&MinixSIFMT == MinixSIFBLK {
		m |= unix.S_IFBLK
	}
	if minixMode&MinixSIFMT == MinixSIFDIR {
		m |= unix.S_IFDIR
	}
	if minixMode&MinixSIFMT == MinixSIFCHR {
		m |= unix.S_IFCHR
	}
	if minixMode&MinixSIFMT == MinixSIFIFO {
		m |= unix.S_IFIFO
	}
	if minixMode&MinixSISUID != 0 {
		m |= unix.S_ISUID
	}
	if minixMode&MinixSISGID != 0 {
		m |= unix.S_ISGID
	}
	if minixMode&MinixSISVTX != 0 {
		m |= unix.S_ISVTX
	}
	if minixMode&MinixSIRUSR != 0 {
		m |= unix.S_IRUSR
	}
	if minixMode&MinixSIWUSR != 0 {
		m |= unix.S_IWUSR
	}
	if minixMode&MinixSIXUSR != 0 {
		m |= unix.S_IXUSR
	}
	if minixMode&MinixSIRGRP != 0 {
		m |= unix.S_IRGRP
	}
	if minixMode&MinixSIWGRP != 0 {
		m |= unix.S_IWGRP
	}
	if minixMode&MinixSIXGRP != 0 {
		m |= unix.S_IXGRP
	}
	if minixMode&MinixSIROTH != 0 {
		m |= unix.S_IROTH
	}
	if minixMode&MinixSIWOTH != 0 {
		m |= unix.S_IWOTH
	}
	if minixMode&MinixSIXOTH != 0 {
		m |= unix.S_IXOTH
	}
	return m
}

func minixStatMode(hostMode uint32) uint16 {
	var m uint16
	if hostMode&unix.S_IFMT == unix.S_IFREG {
		m |= MinixSIFREG
	}
	if hostMode&unix.S_IFMT == unix.S_IFBLK {
		m |= MinixSIFBLK
	}
	if hostMode&unix.S_IFMT == unix.S_IFDIR {
		m |= MinixSIFDIR
	}
	if hostMode&unix.S_IFMT == unix.S_IFCHR {
		m |= MinixSIFCHR
	}
	if hostMode&unix.S_IFMT == unix.S_IFIFO {
		m |= MinixSIFIFO
	}
	if hostMode&unix.S_ISUID != 0 {
		m |= MinixSISUID
	}
	if hostMode&unix.S_ISGID != 0 {
		m |= MinixSISGID
	}
	if hostMode&unix.S_ISVTX != 0 {
		m |= MinixSISVTX
	}
	if hostMode&unix.S_IRUSR != 0 {
		m |= MinixSIRUSR
	}
	if hostMode&unix.S_IWUSR != 0 {
		m |= MinixSIWUSR
	}
	if hostMode&unix.S_IXUSR != 0 {
		m |= MinixSIXUSR
	}
	if hostMode&unix.S_IRGRP != 0 {
		m |= MinixSIRGRP
	}
	if hostMode&unix.S_IWGRP != 0 {
		m |= MinixSIWGRP
	}
	if hostMode&unix.S_IXGRP != 0 {
		m |= MinixSIXGRP
	}
	if hostMode&unix.S_IROTH != 0 {
		m |= MinixSIROTH
	}
	if hostMode&unix.S_IWOTH != 0 {
		m |= MinixSIWOTH
	}
	if hostMode&unix.S_IXOTH != 0 {
		m |= MinixSIXOTH
	}
	return m
}

// squeezeInode folds a host inode into MINIX's 16-bit space: if it already
// fits, pass it through; otherwise fold each 16-bit word by addition modulo
// 2^16, and if that folds to zero, force it to a deterministic non-zero
// value so a non-zero host inode never maps to a zero guest inode.
func squeezeInode(hostIno uint64) uint16 {
	if hostIno <= 0xFFFF {
		return uint16(hostIno)
	}
	var sum uint32
	for hostIno != 0 {
		sum += uint32(hostIno & 0xFFFF)
		hostIno >>= 16
	}
	squeezed := uint16(sum)
	if squeezed == 0 {
		squeezed = 1
	}
	return squeezed
}

// MinixStat is the host-order working copy of a MINIX stat buffer.
type MinixStat struct {
	Dev   uint16
	Ino   uint16
	Mode  uint16
	Nlink int16
	Uid   int16
	Gid   int16
	Rdev  uint16
	Size  int32
	Atime int32
	Mtime int32
	Ctime int32
}

func minixStatFromHost(st *unix.Stat_t) MinixStat {
	size := st.Size
	if size >= 0x7FFFFFFF {
		size = 0x7FFFFFFF
	}
	return MinixStat{
		Dev:   uint16(st.Dev),
		Ino:   squeezeInode(st.Ino),
		Mode:  minixStatMode(uint32(st.Mode)),
		Nlink: int16(st.Nlink),
		Uid:   int16(st.Uid),
		Gid:   int16(st.Gid),
		Rdev:  uint16(st.Rdev),
		Size:  int32(size),
		Atime: int32(st.Atim.Sec),
		Mtime: int32(st.Mtim.Sec),
		Ctime: int32(st.Ctim.Sec),
	}
}

// Create opens path for writing, truncating or creating it, mirroring
// MINIXCompat_File_Create's O_CREAT|O_TRUNC|O_WRONLY composition.
func (fs *Filesystem) Create(path string, mode uint16) (int16, error) {
	return fs.Open(path, MinixOCreat|MinixOTrunc|MinixOWronly, mode)
}

// Open finds a free slot, translates flags/mode, joins the path, and opens
// the host file. If the result is a directory, its entries are pre-cached
// into DirCache; any failure along the way cleans the slot back up.
func (fs *Filesystem) Open(path string, flags uint16, mode uint16) (int16, error) {
	guestFD, err := fs.findNextAvailable()
	if err != nil {
		return 0, err
	}

	hostPath := fs.HostPathForPath(path)
	hostFD, err := unix.Open(hostPath, hostOpenFlags(flags), hostOpenMode(mode))
	if err != nil {
		return 0, err
	}

	slot := &fs.fds[guestFD]
	slot.HostFD = hostFD
	slot.GuestFD = guestFD
	slot.Kind = fdFile

	var st unix.Stat_t
	if err := statRetryEINTR(hostFD, &st); err != nil {
		unix.Close(hostFD)
		slot.clear()
		slot.GuestFD = guestFD
		return 0, err
	}

	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		cache, err := precacheDirectory(hostPath)
		if err != nil {
			unix.Close(hostFD)
			slot.clear()
			slot.GuestFD = guestFD
			return 0, err
		}
		slot.Kind = fdDirectory
		slot.DirCache = cache
	}

	return guestFD, nil
}

func statRetryEINTR(hostFD int, st *unix.Stat_t) error {
	for {
		err := unix.Fstat(hostFD, st)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// precacheDirectory reads every entry of the host directory at hostPath
// into a contiguous 16-bytes-per-entry image: 2-byte big-endian squeezed
// inode followed by a 14-byte NUL-padded name. The directory is opened and
// walked via unix.Open/unix.ReadDirent rather than os.Open/f.Readdir so the
// real host inode is available per entry: os.FileInfo.Sys() on Linux returns
// a stdlib *syscall.Stat_t, never a *unix.Stat_t, so fishing the inode out of
// it always misses and silently folds every entry to inode 0.
func precacheDirectory(hostPath string) ([]byte, error) {
	dirFD, err := unix.Open(hostPath, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(dirFD)

	var cache []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.ReadDirent(dirFD, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		_, _, names := unix.ParseDirent(buf[:n], -1, nil)
		for _, name := range names {
			if name == "." || name == ".." {
				continue
			}
			var st unix.Stat_t
			if err := unix.Fstatat(dirFD, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
				continue
			}
			var rec [DirentSize]byte
			squeezed := squeezeInode(st.Ino)
			rec[0] = byte(squeezed >> 8)
			rec[1] = byte(squeezed)
			if len(name) > 14 {
				name = name[:14]
			}
			copy(rec[2:], name)
			cache = append(cache, rec[:]...)
		}
	}
	return cache, nil
}

// Close releases the host descriptor and clears the slot, including any
// directory cache.
func (fs *Filesystem) Close(guestFD int16) error {
	slot := &fs.fds[guestFD]
	err := unix.Close(slot.HostFD)
	slot.clear()
	slot.GuestFD = guestFD
	return err
}

// Read fills buf from a file slot via the host read, or from the cached
// directory image for a directory slot, advancing DirOffset.
func (fs *Filesystem) Read(guestFD int16, buf []byte) (int, error) {
	slot := &fs.fds[guestFD]
	if slot.Kind == fdDirectory {
		end := slot.DirOffset + len(buf)
		if end > len(slot.DirCache) {
			return 0, unix.EIO
		}
		n := copy(buf, slot.DirCache[slot.DirOffset:end])
		slot.DirOffset += n
		return n, nil
	}
	return unix.Read(slot.HostFD, buf)
}

// Write writes buf to a file slot. Writing to a directory slot is a
// programmer error in the caller, not a recoverable runtime condition.
func (fs *Filesystem) Write(guestFD int16, buf []byte) (int, error) {
	slot := &fs.fds[guestFD]
	if slot.Kind == fdDirectory {
		panic("minixcompat: write to directory descriptor")
	}
	return unix.Write(slot.HostFD, buf)
}

// Seek passes through to the host lseek for file slots. For directory
// slots it maintains DirOffset manually: SET anchors at 0, CUR adds to the
// current offset, and END anchors at count*16-1, reproducing the
// off-by-one in the original source rather than the arithmetically clean
// count*16 (see the open question this carries forward).
func (fs *Filesystem) Seek(guestFD int16, offset int32, whence int16) (int32, error) {
	slot := &fs.fds[guestFD]
	if slot.Kind != fdDirectory {
		n, err := unix.Seek(slot.HostFD, int64(offset), int(whence))
		return int32(n), err
	}

	var newOffset int
	switch whence {
	case MinixSeekSet:
		newOffset = int(offset)
	case MinixSeekCur:
		newOffset = slot.DirOffset + int(offset)
	case MinixSeekEnd:
		newOffset = len(slot.DirCache) - 1 + int(offset)
	default:
		return 0, unix.EINVAL
	}

	if newOffset < 0 || newOffset > len(slot.DirCache) {
		return 0, unix.EINVAL
	}
	slot.DirOffset = newOffset
	return int32(newOffset), nil
}

// Stat resolves path on the host and returns a host-order MinixStat; the
// caller is responsible for byte-swapping before writing it into guest
// memory.
func (fs *Filesystem) Stat(path string) (MinixStat, error) {
	hostPath := fs.HostPathForPath(path)
	var st unix.Stat_t
	if err := unix.Stat(hostPath, &st); err != nil {
		return MinixStat{}, err
	}
	return minixStatFromHost(&st), nil
}

// FStat is Stat for an already-open descriptor.
func (fs *Filesystem) FStat(guestFD int16) (MinixStat, error) {
	slot := &fs.fds[guestFD]
	var st unix.Stat_t
	if err := unix.Fstat(slot.HostFD, &st); err != nil {
		return MinixStat{}, err
	}
	return minixStatFromHost(&st), nil
}

// Unlink removes the host file path resolves to.
func (fs *Filesystem) Unlink(path string) error {
	return unix.Unlink(fs.HostPathForPath(path))
}

// Access checks the host file path resolves to against mode.
func (fs *Filesystem) Access(path string, mode uint16) error {
	return unix.Access(fs.HostPathForPath(path), hostOpenMode(mode))
}
