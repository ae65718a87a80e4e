// errors_map.go - MINIX errno <-> host errno translation.
//
// Grounded field-for-field on
// original_source/MINIXCompat/MINIXCompat_Errors.c, using
// golang.org/x/sys/unix's errno constants in place of the original's libc
// <errno.h> values.

package main

import (
	"errors"

	"golang.org/x/sys/unix"
)

// MinixErrno is a MINIX-side error number (1-39, or 99 for the catch-all
// ERROR).
type MinixErrno int16

const (
	MinixEPERM   MinixErrno = 1
	MinixENOENT  MinixErrno = 2
	MinixESRCH   MinixErrno = 3
	MinixEINTR   MinixErrno = 4
	MinixEIO     MinixErrno = 5
	MinixENXIO   MinixErrno = 6
	MinixE2BIG   MinixErrno = 7
	MinixENOEXEC MinixErrno = 8
	MinixEBADF   MinixErrno = 9
	MinixECHILD  MinixErrno = 10
	MinixEAGAIN  MinixErrno = 11
	MinixENOMEM  MinixErrno = 12
	MinixEACCES  MinixErrno = 13
	MinixEFAULT  MinixErrno = 14
	MinixENOTBLK MinixErrno = 15
	MinixEBUSY   MinixErrno = 16
	MinixEEXIST  MinixErrno = 17
	MinixEXDEV   MinixErrno = 18
	MinixENODEV  MinixErrno = 19
	MinixENOTDIR MinixErrno = 20
	MinixEISDIR  MinixErrno = 21
	MinixEINVAL  MinixErrno = 22
	MinixENFILE  MinixErrno = 23
	MinixEMFILE  MinixErrno = 24
	MinixENOTTY  MinixErrno = 25
	MinixETXTBSY MinixErrno = 26
	MinixEFBIG   MinixErrno = 27
	MinixENOSPC  MinixErrno = 28
	MinixESPIPE  MinixErrno = 29
	MinixEROFS   MinixErrno = 30
	MinixEMLINK  MinixErrno = 31
	MinixEPIPE   MinixErrno = 32
	MinixEDOM    MinixErrno = 33
	MinixERANGE  MinixErrno = 34
	MinixEDEADLK MinixErrno = 35
	MinixENAMETOOLONG MinixErrno = 36
	MinixENOLCK  MinixErrno = 37
	MinixENOSYS  MinixErrno = 38
	MinixENOTEMPTY MinixErrno = 39

	// MinixERROR is the catch-all for any host errno with no MINIX
	// equivalent.
	MinixERROR MinixErrno = 99
)

// minixToHost is consulted by HostErrnoForMinix; hostToMinix is built from
// it in init so the two directions can never silently drift apart.
var minixToHost = map[MinixErrno]unix.Errno{
	MinixEPERM:        unix.EPERM,
	MinixENOENT:       unix.ENOENT,
	MinixESRCH:        unix.ESRCH,
	MinixEINTR:        unix.EINTR,
	MinixEIO:          unix.EIO,
	MinixENXIO:        unix.ENXIO,
	MinixE2BIG:        unix.E2BIG,
	MinixENOEXEC:      unix.ENOEXEC,
	MinixEBADF:        unix.EBADF,
	MinixECHILD:       unix.ECHILD,
	MinixEAGAIN:       unix.EAGAIN,
	MinixENOMEM:       unix.ENOMEM,
	MinixEACCES:       unix.EACCES,
	MinixEFAULT:       unix.EFAULT,
	MinixENOTBLK:      unix.ENOTBLK,
	MinixEBUSY:        unix.EBUSY,
	MinixEEXIST:       unix.EEXIST,
	MinixEXDEV:        unix.EXDEV,
	MinixENODEV:       unix.ENODEV,
	MinixENOTDIR:      unix.ENOTDIR,
	MinixEISDIR:       unix.EISDIR,
	MinixEINVAL:       unix.EINVAL,
	MinixENFILE:       unix.ENFILE,
	MinixEMFILE:       unix.EMFILE,
	MinixENOTTY:       unix.ENOTTY,
	MinixETXTBSY:      unix.ETXTBSY,
	MinixEFBIG:        unix.EFBIG,
	MinixENOSPC:       unix.ENOSPC,
	MinixESPIPE:       unix.ESPIPE,
	MinixEROFS:        unix.EROFS,
	MinixEMLINK:       unix.EMLINK,
	MinixEPIPE:        unix.EPIPE,
	MinixEDOM:         unix.EDOM,
	MinixERANGE:       unix.ERANGE,
	MinixEDEADLK:      unix.EDEADLK,
	MinixENAMETOOLONG: unix.ENAMETOOLONG,
	MinixENOLCK:       unix.ENOLCK,
	MinixENOSYS:       unix.ENOSYS,
	MinixENOTEMPTY:    unix.ENOTEMPTY,
	// MinixERROR intentionally has no forward mapping target other than
	// ENOTRECOVERABLE, registered explicitly below: it is the target of
	// many host errors, not the source of one.
}

var hostToMinix map[unix.Errno]MinixErrno

func init() {
	hostToMinix = make(map[unix.Errno]MinixErrno, len(minixToHost))
	for m, h := range minixToHost {
		hostToMinix[h] = m
	}
	// MinixError -> ENOTRECOVERABLE is the one place the mapping is not
	// injective in the MINIX->host direction: ENOTRECOVERABLE also has no
	// host->MINIX preimage above, so is mapped back to the generic ERROR.
	hostToMinix[unix.ENOTRECOVERABLE] = MinixERROR
}

// MinixErrnoForHostError maps a host error into the MINIX errno space. Any
// host errno not present in the table collapses to MinixERROR (99). An errno
// wrapped inside err (via %w) is found and mapped as well.
func MinixErrnoForHostError(err error) MinixErrno {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return MinixERROR
	}
	if m, ok := minixToHostReverse(errno); ok {
		return m
	}
	return MinixERROR
}

func minixToHostReverse(errno unix.Errno) (MinixErrno, bool) {
	m, ok := hostToMinix[errno]
	return m, ok
}

// HostErrnoForMinixError maps a MINIX errno back to the host errno space.
// MinixERROR maps to ENOTRECOVERABLE, the one non-injective case.
func HostErrnoForMinixError(m MinixErrno) unix.Errno {
	if m == MinixERROR {
		return unix.ENOTRECOVERABLE
	}
	if h, ok := minixToHost[m]; ok {
		return h
	}
	return unix.ENOTRECOVERABLE
}
