package snapshot

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Store names.
const (
	MetastoreName  = "metastore"
	CachestoreName = "cachestore"
)

const (
	currentSuffix   = "-current"
	logsSuffix      = "-logs"
	indexLogsSuffix = "-index-logs"

	// LogExtension is the file extension of a WAL chunk.
	LogExtension = ".flex"
)

// ErrInvalidLogName is returned when a WAL chunk name has no parsable
// sequence number. Replay treats it as fatal.
var ErrInvalidLogName = errors.New("snapshot: invalid log name")

// ID identifies a snapshot by its creation time in Unix milliseconds.
// Numeric order is chronological order.
type ID uint64

// NewID returns the id for a snapshot taken at t.
func NewID(t time.Time) ID {
	return ID(t.UnixMilli())
}

// Time returns the creation time encoded in id.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id))
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// naming holds the remote path rules for one store name. Every parser is
// derived from the same "^{name}-(\d+)" pattern.
type naming struct {
	name string

	pointerRe *regexp.Regexp // pointer content
	objectRe  *regexp.Regexp // any snapshot or log object
	catalogRe *regexp.Regexp // snapshot file set objects only
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot: store name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("snapshot: invalid store name %q", name)
	}
	return nil
}

func newNaming(name string) naming {
	base := "^" + regexp.QuoteMeta(name) + `-(\d+)`
	return naming{
		name:      name,
		pointerRe: regexp.MustCompile(base),
		objectRe:  regexp.MustCompile(base + `(?:` + regexp.QuoteMeta(indexLogsSuffix) + `|` + regexp.QuoteMeta(logsSuffix) + `)?(?:/|$)`),
		catalogRe: regexp.MustCompile(base + `/`),
	}
}

// listPrefix matches every object belonging to the store.
func (n naming) listPrefix() string {
	return n.name + "-"
}

func (n naming) currentPath() string {
	return n.name + currentSuffix
}

func (n naming) snapshotPrefix(id ID) string {
	return n.name + "-" + id.String()
}

func (n naming) logsDir(id ID) string {
	return n.snapshotPrefix(id) + logsSuffix
}

// parsePointer extracts the id from pointer file content.
func (n naming) parsePointer(content []byte) (ID, bool) {
	return matchID(n.pointerRe, content)
}

// parseObject extracts the id from any object of the store: snapshot
// files and both log directory flavors. Other names do not match.
func (n naming) parseObject(remotePath string) (ID, bool) {
	return matchID(n.objectRe, []byte(remotePath))
}

// parseCatalog extracts the id from snapshot file set objects only.
func (n naming) parseCatalog(remotePath string) (ID, bool) {
	return matchID(n.catalogRe, []byte(remotePath))
}

func matchID(re *regexp.Regexp, s []byte) (ID, bool) {
	m := re.FindSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return ID(v), true
}

// LogChunkPath returns the remote path of chunk seq inside dir.
func LogChunkPath(dir string, seq uint64) string {
	return dir + "/" + strconv.FormatUint(seq, 10) + LogExtension
}

// ParseLogSeq extracts the sequence number from a chunk path such as
// "metastore-1-logs/12.flex".
func ParseLogSeq(remotePath string) (uint64, error) {
	base := path.Base(remotePath)
	digits, ok := strings.CutSuffix(base, LogExtension)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidLogName, remotePath)
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidLogName, remotePath, err)
	}
	return seq, nil
}
