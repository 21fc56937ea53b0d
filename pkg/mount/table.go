package mount

import "strings"

// Phase identifies where in a jail's construction a Table is being
// consulted. Mount scheduling rules differ across phases: some entries
// are only safe to actually perform once inside the cloned namespace.
type Phase int

const (
	// PhaseManifest covers manifest interpretation, before any process
	// has been cloned: declared mounts are recorded but not applied.
	PhaseManifest Phase = iota
	// PhasePreFork covers setup performed by the privileged parent
	// before cloning the namespace child (binding the jail root itself).
	PhasePreFork
	// PhasePostClone covers mounts applied inside the new mount
	// namespace, after pivot_root.
	PhasePostClone
)

// Entry describes one row of the mount table: a source path or device,
// the filesystem type to mount it as, the canonical flags, and any
// residual option string the kernel still needs verbatim.
type Entry struct {
	Source string
	Type   string
	Flags  Flag
	Data   string
	Wanted bool // explicitly requested by the manifest, not a default
}

// DelayedMount is a mount recorded during manifest interpretation that
// must wait until PhasePostClone to actually be performed (the
// filesystem types proc, devpts and sysfs).
type DelayedMount struct {
	Dst   string
	Entry Entry
}

// Table tracks, for a single jail under construction, which
// destinations already have something mounted on them (dst), what the
// declared mount for each destination should be (entries), and which
// mounts must be deferred to PhasePostClone.
type Table struct {
	Phase Phase

	entries map[string]Entry
	dst     map[string]int // 0 unknown, 1 host-mounted, 2 jail-mounted, 3 unmounted
	delayed []DelayedMount
}

// dst table values, mirroring pa-jail.cc's dst_table sentinel scheme.
const (
	dstUnknown     = 0
	dstHostMounted = 1
	dstJailMounted = 2
	dstUnmounted   = 3
)

// NewTable returns an empty Table in PhaseManifest.
func NewTable() *Table {
	return &Table{
		Phase:   PhaseManifest,
		entries: make(map[string]Entry),
		dst:     make(map[string]int),
	}
}

// Declare records what should be mounted at dst, overwriting any
// earlier declaration for the same destination (last-declared wins,
// matching manifest interpretation order).
func (t *Table) Declare(dst string, e Entry) {
	t.entries[dst] = e
}

// Lookup returns the declared entry for dst, if any.
func (t *Table) Lookup(dst string) (Entry, bool) {
	e, ok := t.entries[dst]
	return e, ok
}

// Entries returns every declared (dst -> Entry) mapping, for callers
// that need to carry a Table's declarations across a process boundary
// (e.g. the jailuser re-exec handoff, which can't share Go memory with
// its child).
func (t *Table) Entries() map[string]Entry {
	return t.entries
}

// defaultMountable lists destinations pa-jail always wants mounted
// unless the manifest or policy disables them, along with the phase
// their mount type is safe to apply in.
var defaultMountable = map[string]struct {
	fstype string
	phase  Phase
}{
	"/proc":    {"proc", PhasePostClone},
	"/dev/pts": {"devpts", PhasePostClone},
	"/sys":     {"sysfs", PhasePostClone},
	"/tmp":     {"tmpfs", PhasePostClone},
	"/run":     {"tmpfs", PhasePostClone},
	"/dev":     {"tmpfs", PhasePreFork},
}

// Mountable reports whether dst is one this tool will mount by default
// or because the manifest explicitly wanted it, tie-breaking in favor
// of an explicit manifest declaration over a built-in default.
func (t *Table) Mountable(dst string) bool {
	if e, ok := t.entries[dst]; ok {
		return e.Wanted || isDefaultDst(dst)
	}
	return isDefaultDst(dst)
}

func isDefaultDst(dst string) bool {
	_, ok := defaultMountable[dst]
	return ok
}

// Unmounted returns the nearest ancestor of dir (inclusive) that has
// been recorded as unmounted by HandleUnmount, or "" if there is none.
func (t *Table) Unmounted(dir string) string {
	for d := dir; d != "" && d != "/"; d = parentOf(d) {
		if t.dst[d] == dstUnmounted {
			return d
		}
	}
	if t.dst["/"] == dstUnmounted {
		return "/"
	}
	return ""
}

func parentOf(p string) string {
	p = strings.TrimRight(p, "/")
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// markMounted records that dst now has something mounted on it, either
// by the host (before this tool ran) or by this tool itself inside the
// jail.
func (t *Table) markMounted(dst string, byJail bool) {
	if byJail {
		t.dst[dst] = dstJailMounted
	} else if t.dst[dst] == dstUnknown {
		t.dst[dst] = dstHostMounted
	}
}

// markUnmounted records that dst was requested to be unmounted (or, on
// a real run, was unmounted) and has no mount backing it any more.
func (t *Table) markUnmounted(dst string) {
	t.dst[dst] = dstUnmounted
}

// DelayedMounts returns the mounts queued during manifest interpretation
// that must be performed once inside the new namespace.
func (t *Table) DelayedMounts() []DelayedMount {
	return t.delayed
}

// Delay queues a mount for PhasePostClone application.
func (t *Table) Delay(dst string, e Entry) {
	t.delayed = append(t.delayed, DelayedMount{Dst: dst, Entry: e})
}
